package main

import "github.com/stoik/mailbridge/services/scim-bridge/internal/app"

func main() {
	app.Execute()
}
