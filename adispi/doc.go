// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package adispi implements regport.Port on top of a periph SPI connection
// using the 4-wire framing of the transceiver control interface.
//
// Use build tag periph_rfxcvr_adispi_debug to log every transaction.
//
// The SPI port can be any periph spi.Port, for example a Linux spidev
// (sysfs) or the MPSSE engine of a FT232H.
package adispi
