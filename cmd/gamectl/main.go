// Command gamectl drives the gamification engine from a terminal: schema
// migrations, XP awards, the coin shop and a live event stream per user.
package main

import "github.com/alem-hub/school-gamification/cmd/gamectl/root"

func main() {
	root.Execute()
}
