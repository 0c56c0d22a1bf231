// Command corectl is the operator CLI of the repository core. It loads the
// container configuration from flags, CORE_* environment variables and .env
// files, and runs an end-to-end demo against the selected backends.
package main

func main() {
	Execute()
}
