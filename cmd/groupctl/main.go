package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ruteri/groupshare/cmd/flags"
	"github.com/ruteri/groupshare/config"
	"github.com/ruteri/groupshare/cryptoutils"
	"github.com/ruteri/groupshare/httpserver"
	"github.com/ruteri/groupshare/interfaces"
	"github.com/ruteri/groupshare/kms"
	"github.com/ruteri/groupshare/transfer"
	"github.com/urfave/cli/v2"
)

var flagGroup *cli.StringFlag = &cli.StringFlag{
	Name:     "group",
	Required: true,
	Usage:    "group identifier",
}
var flagUser *cli.StringFlag = &cli.StringFlag{
	Name:     "user",
	Required: true,
	Usage:    "acting user identifier",
}
var flagMember *cli.StringFlag = &cli.StringFlag{
	Name:     "member",
	Required: true,
	Usage:    "user to add or revoke",
}
var flagKey *cli.StringFlag = &cli.StringFlag{
	Name:  "key",
	Usage: "base64 32-byte group key, generated when empty",
}
var flagCID *cli.StringFlag = &cli.StringFlag{
	Name:     "cid",
	Required: true,
	Usage:    "content identifier",
}
var flagIn *cli.StringFlag = &cli.StringFlag{
	Name:     "in",
	Required: true,
	Usage:    "input file",
}
var flagOut *cli.StringFlag = &cli.StringFlag{
	Name:  "out",
	Usage: "output file, stdout when empty",
}

func withPipeline(action func(cCtx *cli.Context, p *config.Pipeline) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)
		p, err := flags.ConfigFromCLI(cCtx).Open(cCtx.Context, logger)
		if err != nil {
			return err
		}
		return action(cCtx, p)
	}
}

func pipelineFlags(extra ...cli.Flag) []cli.Flag {
	return append(append([]cli.Flag{}, flags.PipelineFlags...), extra...)
}

func optionalKey(cCtx *cli.Context) ([]byte, error) {
	encoded := cCtx.String(flagKey.Name)
	if encoded == "" {
		return nil, nil
	}
	return cryptoutils.DecodeGroupKey(encoded)
}

func writeOutput(cCtx *cli.Context, data []byte) error {
	if out := cCtx.String(flagOut.Name); out != "" {
		return os.WriteFile(out, data, 0600)
	}
	_, err := os.Stdout.Write(data)
	return err
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTransferError shows the artifacts of a failed saga so the operator
// can reconcile it.
func printTransferError(err error) error {
	var te *transfer.TransferError
	if !errors.As(err, &te) {
		return err
	}
	fmt.Fprintf(os.Stderr, "class: %s\nstep: %s\n", te.Class, te.Step)
	if te.CID != "" {
		fmt.Fprintf(os.Stderr, "cid: %s\n", te.CID)
	}
	if te.TransactionID != "" {
		fmt.Fprintf(os.Stderr, "transaction: %s\n", te.TransactionID)
	}
	if te.Hint != "" {
		fmt.Fprintf(os.Stderr, "hint: %s\n", te.Hint)
	}
	return err
}

func main() {
	app := &cli.App{
		Name:  "groupctl",
		Usage: "Manage groups and transfer files with group-scoped encryption",
		Flags: flags.LogFlags,
		Commands: []*cli.Command{
			{
				Name:  "provision",
				Usage: "register a group and store its first key",
				Flags: pipelineFlags(flagGroup, flagKey),
				Action: withPipeline(func(cCtx *cli.Context, p *config.Pipeline) error {
					key, err := optionalKey(cCtx)
					if err != nil {
						return err
					}
					return p.Keys.ProvisionGroup(cCtx.Context, cCtx.String(flagGroup.Name), key)
				}),
			},
			{
				Name:  "add-member",
				Usage: "authorize a user in a group",
				Flags: pipelineFlags(flagGroup, flagMember),
				Action: withPipeline(func(cCtx *cli.Context, p *config.Pipeline) error {
					return p.Keys.AddMember(cCtx.Context, cCtx.String(flagGroup.Name), cCtx.String(flagMember.Name))
				}),
			},
			{
				Name:  "revoke-member",
				Usage: "revoke a user and rotate the group key",
				Flags: pipelineFlags(flagGroup, flagMember),
				Action: withPipeline(func(cCtx *cli.Context, p *config.Pipeline) error {
					return p.Keys.RevokeMember(cCtx.Context, cCtx.String(flagGroup.Name), cCtx.String(flagMember.Name))
				}),
			},
			{
				Name:  "rotate-key",
				Usage: "replace the group key",
				Flags: pipelineFlags(flagGroup, flagKey),
				Action: withPipeline(func(cCtx *cli.Context, p *config.Pipeline) error {
					key, err := optionalKey(cCtx)
					if err != nil {
						return err
					}
					return p.Keys.RotateKey(cCtx.Context, cCtx.String(flagGroup.Name), key)
				}),
			},
			{
				Name:  "upload",
				Usage: "encrypt, store and record a file",
				Flags: pipelineFlags(flagGroup, flagUser, flagIn),
				Action: withPipeline(func(cCtx *cli.Context, p *config.Pipeline) error {
					in := cCtx.String(flagIn.Name)
					data, err := os.ReadFile(in)
					if err != nil {
						return err
					}
					res, err := p.Orchestrator.Upload(cCtx.Context, cCtx.String(flagGroup.Name), cCtx.String(flagUser.Name), data, filepath.Base(in))
					if err != nil {
						return printTransferError(err)
					}
					return printJSON(res)
				}),
			},
			{
				Name:  "retrieve",
				Usage: "fetch, decrypt and verify a file",
				Flags: pipelineFlags(flagGroup, flagUser, flagCID, flagOut,
					&cli.StringFlag{Name: "expected-group", Usage: "fail unless the file belongs to this group"},
					&cli.BoolFlag{Name: "skip-verify", Usage: "skip the ledger lookup"},
				),
				Action: withPipeline(func(cCtx *cli.Context, p *config.Pipeline) error {
					res, err := p.Orchestrator.Retrieve(cCtx.Context, transfer.RetrieveRequest{
						Group:         cCtx.String(flagGroup.Name),
						User:          cCtx.String(flagUser.Name),
						CID:           interfaces.CID(cCtx.String(flagCID.Name)),
						ExpectedGroup: cCtx.String("expected-group"),
						SkipVerify:    cCtx.Bool("skip-verify"),
					})
					if err != nil {
						return printTransferError(err)
					}
					fmt.Fprintf(os.Stderr, "hash: %s\nverification: %s\nkey version: %d\n", res.FileHash, res.Verification, res.KeyVersion)
					return writeOutput(cCtx, res.Plaintext)
				}),
			},
			{
				Name:  "list",
				Usage: "list the transfer records of a group",
				Flags: pipelineFlags(flagGroup, flagUser),
				Action: withPipeline(func(cCtx *cli.Context, p *config.Pipeline) error {
					records, err := p.Orchestrator.ListTransfers(cCtx.Context, cCtx.String(flagGroup.Name), cCtx.String(flagUser.Name))
					if err != nil {
						return err
					}
					return printJSON(records)
				}),
			},
			{
				Name:  "reconcile",
				Usage: "show the ledger records of a CID",
				Flags: pipelineFlags(flagGroup, flagUser, flagCID),
				Action: withPipeline(func(cCtx *cli.Context, p *config.Pipeline) error {
					records, err := p.Orchestrator.Reconcile(cCtx.Context, cCtx.String(flagGroup.Name), cCtx.String(flagUser.Name), interfaces.CID(cCtx.String(flagCID.Name)))
					if err != nil {
						return err
					}
					if len(records) == 0 {
						fmt.Fprintln(os.Stderr, "not recorded")
					}
					return printJSON(records)
				}),
			},
			{
				Name:  "encrypt",
				Usage: "encrypt a file locally with a group key",
				Flags: []cli.Flag{flagIn, flagOut, &cli.StringFlag{Name: "key", Required: true, Usage: "base64 32-byte group key"}},
				Action: func(cCtx *cli.Context) error {
					key, err := cryptoutils.DecodeGroupKey(cCtx.String("key"))
					if err != nil {
						return err
					}
					data, err := os.ReadFile(cCtx.String(flagIn.Name))
					if err != nil {
						return err
					}
					blob, err := cryptoutils.Encrypt(data, key)
					if err != nil {
						return err
					}
					return writeOutput(cCtx, []byte(base64.StdEncoding.EncodeToString(blob)))
				},
			},
			{
				Name:  "decrypt",
				Usage: "decrypt a base64 blob locally with a group key",
				Flags: []cli.Flag{flagIn, flagOut, &cli.StringFlag{Name: "key", Required: true, Usage: "base64 32-byte group key"}},
				Action: func(cCtx *cli.Context) error {
					key, err := cryptoutils.DecodeGroupKey(cCtx.String("key"))
					if err != nil {
						return err
					}
					encoded, err := os.ReadFile(cCtx.String(flagIn.Name))
					if err != nil {
						return err
					}
					blob, err := base64.StdEncoding.DecodeString(string(encoded))
					if err != nil {
						return fmt.Errorf("input is not base64: %w", err)
					}
					plaintext, err := cryptoutils.Decrypt(blob, key)
					if err != nil {
						return err
					}
					return writeOutput(cCtx, plaintext)
				},
			},
			{
				Name:  "gen-key",
				Usage: "print a new base64 group key, random or derived from a passphrase",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "passphrase", Usage: "derive the key from this passphrase", EnvVars: []string{"GROUPSHARE_PASSPHRASE"}},
					&cli.StringFlag{Name: "salt", Usage: "salt for derivation, at least 16 bytes"},
				},
				Action: func(cCtx *cli.Context) error {
					var key []byte
					var err error
					if passphrase := cCtx.String("passphrase"); passphrase != "" {
						key, err = cryptoutils.DeriveGroupKey([]byte(passphrase), []byte(cCtx.String("salt")))
					} else {
						key, err = cryptoutils.NewGroupKey()
					}
					if err != nil {
						return err
					}
					fmt.Println(cryptoutils.EncodeGroupKey(key))
					return nil
				},
			},
			{
				Name:  "split-key",
				Usage: "split a group key into Shamir shares for escrow, one per line",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Required: true, Usage: "base64 32-byte group key"},
					&cli.IntFlag{Name: "shares", Value: 5, Usage: "number of shares"},
					&cli.IntFlag{Name: "threshold", Value: 3, Usage: "shares needed to recover the key"},
				},
				Action: func(cCtx *cli.Context) error {
					key, err := cryptoutils.DecodeGroupKey(cCtx.String("key"))
					if err != nil {
						return err
					}
					shares, err := kms.SplitGroupKey(key, cCtx.Int("shares"), cCtx.Int("threshold"))
					if err != nil {
						return err
					}
					for _, share := range shares {
						fmt.Println(share)
					}
					return nil
				},
			},
			{
				Name:  "user-token",
				Usage: "print a bearer token identifying a user to the HTTP service",
				Flags: []cli.Flag{
					flagUser,
					&cli.StringFlag{
						Name:     "secret",
						Required: true,
						Usage:    "user token secret of the service, may be a vault: reference",
						EnvVars:  []string{"GROUPSHARE_USER_TOKEN_SECRET"},
					},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "token lifetime"},
				},
				Action: func(cCtx *cli.Context) error {
					secret := cCtx.String("secret")
					if config.IsSecretRef(secret) {
						resolver, err := config.NewSecretResolver("", "")
						if err != nil {
							return err
						}
						if secret, err = resolver.Resolve(cCtx.Context, secret); err != nil {
							return err
						}
					}
					token, err := httpserver.IssueUserToken([]byte(secret), cCtx.String(flagUser.Name), cCtx.Duration("ttl"))
					if err != nil {
						return err
					}
					fmt.Println(token)
					return nil
				},
			},
			{
				Name:      "combine-key",
				Usage:     "recover a group key from escrow shares",
				ArgsUsage: "<share> <share> [share...]",
				Action: func(cCtx *cli.Context) error {
					key, err := kms.CombineGroupKey(cCtx.Args().Slice())
					if err != nil {
						return err
					}
					fmt.Println(cryptoutils.EncodeGroupKey(key))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
