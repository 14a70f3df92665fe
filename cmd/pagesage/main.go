package main

import (
	"github.com/pagesage/pagesage/cmd"
	"github.com/pagesage/pagesage/internal/logging"
)

func main() {
	defer logging.RecoverPanic("main", nil)
	cmd.Execute()
}
