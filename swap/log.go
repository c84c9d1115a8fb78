// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package swap

import "github.com/chainweave/chainweave"

var log = chainweave.Disabled

// UseLogger sets the logger for the swap package.
func UseLogger(logger chainweave.Logger) {
	log = logger
}
