package main

import "mprabench"

func main() {
	mprabench.Main()
}
