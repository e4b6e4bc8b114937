package config

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/orbisnet/orbisd/chaincfg"
	"github.com/pkg/errors"
)

// NetworkFlags holds the network configuration, that is which network is
// selected.
type NetworkFlags struct {
	SimNet bool `long:"simnet" description:"Use the simulation test network"`

	ActiveNetParams *chaincfg.Params
}

// ResolveNetwork parses the network command line arguments and sets
// ActiveNetParams accordingly. The default network is mainnet.
func (networkFlags *NetworkFlags) ResolveNetwork(parser *flags.Parser) error {
	networkFlags.ActiveNetParams = &chaincfg.MainnetParams
	numNets := 0
	if networkFlags.SimNet {
		numNets++
		networkFlags.ActiveNetParams = &chaincfg.SimnetParams
	}
	if numNets > 1 {
		message := "Multiple network parameters cannot be used together. " +
			"Please choose only one network"
		err := errors.Errorf(message)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return err
	}
	return nil
}

// NetParams returns the currently active network parameters.
func (networkFlags *NetworkFlags) NetParams() *chaincfg.Params {
	return networkFlags.ActiveNetParams
}
