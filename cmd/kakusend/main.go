package main

import (
	kaku "github.com/doismellburning/kaku/src"
)

func main() {
	kaku.KakuSendMain()
}
