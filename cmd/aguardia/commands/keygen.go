package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirushik/aguardia-server/cmd/security/envelope"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print fresh seeds and their public keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sx, err := envelope.NewSeed()
			if err != nil {
				return err
			}
			se, err := envelope.NewSeed()
			if err != nil {
				return err
			}
			kp := envelope.DeriveKeys(sx, se)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "seed_x    = %q\n", envelope.FormatKey(sx[:]))
			fmt.Fprintf(out, "seed_ed   = %q\n", envelope.FormatKey(se[:]))
			fmt.Fprintf(out, "# public_x  %s\n", envelope.FormatKey(kp.XPublic[:]))
			fmt.Fprintf(out, "# public_ed %s\n", envelope.FormatKey(kp.EdPublic))
			return nil
		},
	}
}
