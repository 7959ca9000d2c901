package root

import (
	"github.com/zenGate-Global/palmyra-campus/apps/cli/cmd/auth"
	"github.com/zenGate-Global/palmyra-campus/apps/cli/cmd/db"
	"github.com/zenGate-Global/palmyra-campus/apps/cli/cmd/inactivity"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(db.Command())
	Root().AddCommand(inactivity.Command())
}
