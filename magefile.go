//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/target"
)

const simBinary = "bin/fecsim"

var Default = Build

// build the fecsim binary
func Build() error {
	updated, err := target.Dir(simBinary, "cmd", "pkg", "receiver.go", "go.mod")
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	fmt.Println("building...")
	cmd := exec.Command("go", "build", "-o", simBinary, "./cmd/fecsim")
	connectStd(cmd)
	return cmd.Run()
}

// run all tests with the race detector
func Test() error {
	fmt.Println("testing...")
	cmd := exec.Command("go", "test", "-race", "-count=1", "./...")
	connectStd(cmd)
	return cmd.Run()
}

// run a lossy, bursty simulation for each erasure code
func Simulate() error {
	mg.Deps(Build)

	for _, scheme := range []string{"rs", "xor"} {
		cmd := exec.Command(simBinary,
			"--scheme", scheme,
			"--frames", "5000",
			"--fec-percentage", "25",
			"--loss", "0.03",
			"--burst", "2",
			"--reorder", "0.01",
			"--duplicate", "0.01",
		)
		connectStd(cmd)
		if err := cmd.Run(); err != nil {
			return err
		}
	}
	return nil
}

func Clean() error {
	return os.RemoveAll("bin")
}

func connectStd(cmd *exec.Cmd) {
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
}
