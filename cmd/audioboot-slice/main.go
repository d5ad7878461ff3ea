package main

import (
	audioboot "github.com/doismellburning/audioboot/src"
)

func main() {
	audioboot.SliceMain()
}
