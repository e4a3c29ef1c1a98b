// Command xvcd is a Xilinx Virtual Cable daemon: it bridges a TCP client
// (typically Vivado's hardware manager) to a JTAG probe over the XVC
// protocol.
package main

import "github.com/OpenTraceLab/xvcjtag/cmd/xvcd/cmd"

func main() {
	cmd.Execute()
}
