// holepunch bootstraps a root CA for a set of peers and relays framed
// messages between them.
package main

import "github.com/holepunch/holepunch/cli"

func main() {
	cli.Execute()
}
