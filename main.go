package main

import "tsubame/internal/tsubame"

func main() {
	tsubame.Main()
}
