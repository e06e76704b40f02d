// The main package for the profile-feedback executable.
package main

import (
	"github.com/JakeFAU/profile-feedback/cmd"
)

func main() {
	cmd.Execute()
}
