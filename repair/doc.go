// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package repair detects and works around degraded VCM common mode amplifiers
// on the transceiver's JESD204 deserializer lanes.
//
// A repair cycle is run with Repair.Execute. It decides from the factory
// screening, the temperature and the persisted History whether lane errors
// can be attributed to a VCM defect, suspends the SerDes tracking
// calibration, optionally runs a bias survey scoring every lane, applies the
// workaround and verifies the link. A failed verification rolls the hardware
// back to the persisted History.
//
// The workaround either routes the lanes through the switch-C bias path of
// the calibration firmware (more than 4 lanes used) or powers down the common
// mode amplifier of each lane directly (4 lanes or less).
//
// Logging is done with glog; use -v=1 to trace each step and -v=2 for
// register level detail.
package repair
