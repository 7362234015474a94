package command

import (
	"flag"

	"github.com/mitchellh/cli"
)

// FlagSetFlags is an enum to define what flags are present in the default
// FlagSet returned by Meta.FlagSet.
type FlagSetFlags uint

// Flag set profiles of the autoscaler commands.
const (
	FlagSetNone   FlagSetFlags = 0
	FlagSetClient FlagSetFlags = 1 << iota
)

// Meta contains the meta-options and functionality that nearly every command
// inherits.
type Meta struct {
	UI cli.Ui
}

// FlagSet returns an empty FlagSet for the named command; the fs profile
// adds no flags.
func (m *Meta) FlagSet(n string, fs FlagSetFlags) *flag.FlagSet {
	f := flag.NewFlagSet(n, flag.ContinueOnError)
	f.Usage = func() {}
	return f
}
