// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// TrackBot - TrackBot robot control and link analysis
//
// A CLI tool for talking to TrackBot robots over their framed serial
// protocol, running behaviors and inspecting the link.

package main

import (
	"os"

	"github.com/Thermoquad/trackbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
