package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/upload-policy/pkg/uploadpolicy"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/api"
	"github.com/tendant/upload-policy/pkg/uploadpolicy/client"
)

// credentials are shared by commands that sign or verify
type credentials struct {
	accessKeyID string
	secretKey   string
}

func (c *credentials) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.accessKeyID, "access-key-id", os.Getenv("ISSUER_ACCESS_KEY_ID"), "access key ID")
	cmd.Flags().StringVar(&c.secretKey, "secret-key", os.Getenv("ISSUER_SECRET_KEY"), "secret key")
}

// grantFlags describe the policy to sign
type grantFlags struct {
	bucket  string
	prefix  string
	expires int
	acl     string
}

func (g *grantFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&g.bucket, "bucket", "b", "", "bucket the policy grants access to")
	cmd.Flags().StringVarP(&g.prefix, "prefix", "p", "", "object key prefix")
	cmd.Flags().IntVarP(&g.expires, "expires", "e", 10, "validity window in minutes")
	cmd.Flags().StringVar(&g.acl, "acl", uploadpolicy.DefaultACL, "acl label embedded in the policy")
}

func (g *grantFlags) sign(creds credentials) (*uploadpolicy.Grant, error) {
	signer := uploadpolicy.New(uploadpolicy.WithACL(g.acl))
	return signer.Sign(creds.accessKeyID, creds.secretKey, g.bucket, g.prefix, g.expires)
}

func grantResponse(grant *uploadpolicy.Grant) api.GrantResponse {
	doc := grant.Document()
	return api.GrantResponse{
		AccessKeyID: grant.AccessKeyID(),
		Policy:      grant.Policy(),
		Signature:   grant.Signature(),
		Expiration:  grant.Expiration(),
		Bucket:      doc.Bucket,
		Prefix:      doc.KeyPrefix,
		ACL:         doc.ACL,
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewSignCommand creates the sign command
func NewSignCommand() *cobra.Command {
	var creds credentials
	var grant grantFlags

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign an upload policy",
		Long:  `Sign an upload policy for a bucket and key prefix and print the grant as JSON.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := grant.sign(creds)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), grantResponse(g))
		},
	}

	creds.addFlags(cmd)
	grant.addFlags(cmd)
	_ = cmd.MarkFlagRequired("bucket")

	return cmd
}

// documentOutput is the verify command output
type documentOutput struct {
	Expiration time.Time `json:"expiration"`
	Bucket     string    `json:"bucket"`
	ACL        string    `json:"acl"`
	Prefix     string    `json:"prefix"`
}

// NewVerifyCommand creates the verify command
func NewVerifyCommand() *cobra.Command {
	var creds credentials
	var policy, signature string
	var ignoreExpiry bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a policy and signature",
		Long:  `Check that a signature matches a policy under the secret key and print the decoded policy document.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if ignoreExpiry {
				now = time.Time{}
			}

			doc, err := uploadpolicy.Verify(policy, signature, []byte(creds.secretKey), now)
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), documentOutput{
				Expiration: doc.Expiration,
				Bucket:     doc.Bucket,
				ACL:        doc.ACL,
				Prefix:     doc.KeyPrefix,
			})
		},
	}

	creds.addFlags(cmd)
	cmd.Flags().StringVar(&policy, "policy", "", "base64 policy document")
	cmd.Flags().StringVar(&signature, "signature", "", "base64 signature")
	cmd.Flags().BoolVar(&ignoreExpiry, "ignore-expiry", false, "accept expired policies")
	_ = cmd.MarkFlagRequired("policy")
	_ = cmd.MarkFlagRequired("signature")

	return cmd
}

// NewUploadCommand creates the upload command
func NewUploadCommand() *cobra.Command {
	var creds credentials
	var grant grantFlags
	var server, key, contentType, token string
	var remoteGrant bool

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file to a policy server",
		Long: `Upload a file to a policy server under a signed policy.

The policy is signed locally with the given credentials, or requested from
the server with --remote-grant.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath := args[0]

			file, err := os.Open(filePath)
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer file.Close()

			if server == "" {
				return errors.New("--server is required")
			}
			if key == "" {
				key = grant.prefix + filepath.Base(filePath)
			}

			verbose, _ := cmd.Flags().GetBool("verbose")
			c := client.New(server, client.WithToken(token))

			var g *api.GrantResponse
			if remoteGrant {
				g, err = c.RequestGrant(cmd.Context(), grant.bucket, grant.prefix, grant.expires)
				if err != nil {
					return fmt.Errorf("grant request failed: %w", err)
				}
			} else {
				signed, err := grant.sign(creds)
				if err != nil {
					return err
				}
				resp := grantResponse(signed)
				g = &resp
			}

			if verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "Uploading %s to %s/%s (policy expires %s)\n",
					filePath, g.Bucket, key, g.Expiration.Format(time.RFC3339))
			}

			var opts []client.UploadOption
			if contentType != "" {
				opts = append(opts, client.WithContentType(contentType))
			}

			result, err := c.UploadWithGrant(cmd.Context(), g, key, filepath.Base(filePath), file, opts...)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}

			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	creds.addFlags(cmd)
	grant.addFlags(cmd)
	cmd.Flags().StringVarP(&server, "server", "s", os.Getenv("UPLOADPOLICY_SERVER"), "policy server base URL")
	cmd.Flags().StringVarP(&key, "key", "k", "", "object key (default: prefix + file name)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type of the file")
	cmd.Flags().StringVar(&token, "token", os.Getenv("UPLOADPOLICY_TOKEN"), "bearer token for --remote-grant")
	cmd.Flags().BoolVar(&remoteGrant, "remote-grant", false, "request the grant from the server")
	_ = cmd.MarkFlagRequired("bucket")

	return cmd
}
