package main

import (
	"testing"

	"github.com/storeops/stockledger/internal/app"
	_ "github.com/storeops/stockledger/internal/testing/guard"
)

func TestMainReturnsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	main()
}
