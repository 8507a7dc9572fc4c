// Command memberproof は会員証明QRコードの発行と検証を行うサーバー。
//
// 使い方:
//
//	memberproof [serve|worker|migrate|import-roster [--file members.json]|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/memberproof/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "memberproof: %v\n", err)
		os.Exit(1)
	}
}
