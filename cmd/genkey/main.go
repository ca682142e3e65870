// genkey generates the Ed25519 keypair Ring Hub uses to sign badge
// credentials, writing the base64-encoded private key to a file (the form
// badges.LoadSigningKey reads) and printing the multibase-encoded public key
// for a did:key verification method.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"ringhub.sh/ringhub/core/identity"
)

func main() {
	out := "badge-signing.key"
	if len(os.Args) > 1 {
		out = os.Args[1]
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintln(os.Stderr, "genkey:", err)
		os.Exit(1)
	}

	if err := os.WriteFile(out, []byte(base64.StdEncoding.EncodeToString(priv)+"\n"), 0600); err != nil {
		fmt.Fprintln(os.Stderr, "genkey: writing private key:", err)
		os.Exit(1)
	}

	fmt.Printf("wrote private key to %s\n", out)
	fmt.Printf("public key (multibase): %s\n", identity.EncodeMultibaseEd25519(pub))
}
