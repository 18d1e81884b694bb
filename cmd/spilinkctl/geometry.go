package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-spilink/spilink"
)

var geometryCmd = &cobra.Command{
	Use:   "geometry",
	Short: "Print the compiled-in frame geometry",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("payload: %d bytes\n", spilink.BufferSize)
		fmt.Printf("crc:     %d bytes (CRC-32, little-endian)\n", spilink.CRCSize)
		fmt.Printf("frame:   %d bytes\n", spilink.FrameSize)
	},
}
