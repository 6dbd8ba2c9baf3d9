package cmd

import (
	"fmt"
)

const banner = `
  ____             _          _ ____                _
 / ___|  ___  __ _| | ___  __| / ___|  ___  ___ ___(_) ___  _ __
 \___ \ / _ \/ _` + "`" + ` | |/ _ \/ _` + "`" + ` \___ \ / _ \/ __/ __| |/ _ \| '_ \
  ___) |  __/ (_| | |  __/ (_| |___) |  __/\__ \__ \ | (_) | | | |
 |____/ \___|\__,_|_|\___|\__,_|____/ \___||___/___/_|\___/|_| |_|
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Encrypted Session Tokens - Version %s\x1b[0m\n\n", Version)
}
