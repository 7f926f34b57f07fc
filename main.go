// main.go
package main

import "github.com/xkilldash9x/pdp-injector/cmd"

func main() {
	cmd.Execute()
}
