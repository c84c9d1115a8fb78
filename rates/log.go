// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package rates

import "github.com/chainweave/chainweave"

// log is a logger that performs no output until the caller requests it.
var log = chainweave.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger chainweave.Logger) {
	log = logger
}
