package main

import (
	"os"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Print(nil).Error(err.Error())
		os.Exit(1)
	}
}
