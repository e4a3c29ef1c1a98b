package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/xvcjtag/pkg/jtagcore"
	"github.com/OpenTraceLab/xvcjtag/pkg/probe"
	"github.com/OpenTraceLab/xvcjtag/pkg/xvc"
)

var (
	serveAdapter   string
	serveInterface string
	servePort      int
	serveSpeedHz   int
	serveVendorID  uint16
	serveProductID uint16
	serveDetect    int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the XVC daemon",
	Long: `Open a JTAG probe, enumerate the scan chain, and serve the Xilinx
Virtual Cable protocol on the given interface and port until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAdapter, "adapter", "simulator", "probe backend kind; only \"simulator\" is built in, other kinds require an external Capability implementation")
	serveCmd.Flags().StringVar(&serveInterface, "interface", "-", `bind address ("-" for all interfaces)`)
	serveCmd.Flags().IntVar(&servePort, "port", 2542, "TCP port to listen on")
	serveCmd.Flags().IntVar(&serveSpeedHz, "speed", 1_000_000, "TCK frequency in Hertz")
	serveCmd.Flags().Uint16Var(&serveVendorID, "vendor-id", 0, "USB vendor ID (external backends only)")
	serveCmd.Flags().Uint16Var(&serveProductID, "product-id", 0, "USB product ID (external backends only)")
	serveCmd.Flags().IntVar(&serveDetect, "detect", 4, "maximum devices to probe for during chain detection")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	kind := probe.Kind(serveAdapter)
	p, err := probe.Open(kind, probe.Options{VendorID: serveVendorID, ProductID: serveProductID})
	if err != nil {
		return fmt.Errorf("open probe: %w", err)
	}
	if err := p.SetSpeed(serveSpeedHz); err != nil {
		return fmt.Errorf("set speed: %w", err)
	}

	facade := jtagcore.New(p)
	if err := facade.DetectChain(serveDetect); err != nil {
		return fmt.Errorf("detect chain: %w", err)
	}
	if facade.ChainLen() > 0 {
		if err := facade.DeviceSelect(0); err != nil {
			return fmt.Errorf("select device 0: %w", err)
		}
	}
	log.Printf("xvcd: detected %d device(s) on the chain", facade.ChainLen())

	server := xvc.New(facade, log.Default())
	return server.ListenAndServe(serveInterface, servePort)
}
