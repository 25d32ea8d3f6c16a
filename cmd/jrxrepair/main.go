// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// jrxrepair assesses the JESD receive lanes of a transceiver and applies the
// VCM workaround to the lanes that need it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/tebeka/atexit"
)

func main() {
	atexit.Register(glog.Flush)
	root := rootCmd()
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "jrxrepair: %s.\n", err)
		atexit.Exit(exitCode(err))
	}
	atexit.Exit(0)
}
