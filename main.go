package main

import "github.com/vireopay/merchant-gateway/cmd"

func main() {
	cmd.Execute()
}
