package app

// Config holds runtime wiring options for building the app.
type Config struct {
	Home       string // config directory, e.g. $HOME/.mdoclink
	Passphrase string // store passphrase; encrypts credentials and device keys
}
