package config

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/params"
)

// NetworkFlags holds the network configuration, that is which network is selected.
type NetworkFlags struct {
	Testnet  bool `long:"testnet" description:"Use the test network"`
	Stagenet bool `long:"stagenet" description:"Use the staging network"`

	ActiveNetParams *params.Params
}

// ResolveNetwork parses the network command line argument and sets ActiveNetParams accordingly.
// It returns error if more than one network was selected, nil otherwise.
func (networkFlags *NetworkFlags) ResolveNetwork(parser *flags.Parser) error {
	networkFlags.ActiveNetParams = &params.MainnetParams
	numNets := 0
	if networkFlags.Testnet {
		numNets++
		networkFlags.ActiveNetParams = &params.TestnetParams
	}
	if networkFlags.Stagenet {
		numNets++
		networkFlags.ActiveNetParams = &params.StagenetParams
	}
	if numNets > 1 {
		message := "Multiple networks parameters (testnet, stagenet) cannot be used " +
			"together. Please choose only one network"
		err := errors.New(message)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return err
	}
	return nil
}

// NetParams returns the ActiveNetParams
func (networkFlags *NetworkFlags) NetParams() *params.Params {
	return networkFlags.ActiveNetParams
}
