// ABOUTME: Default function collections shipped with the install - encryption
// ABOUTME: and math utilities, registered disabled so the user opts in.

package builtins

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kristerhedfors/toolgate/internal/registry"
	"github.com/kristerhedfors/toolgate/internal/synth"
)

// Group is one default collection: a name, a description, and the JavaScript
// sources of its member functions.
type Group struct {
	ID          string
	Name        string
	Description string
	Sources     []string
}

// Groups returns the default collections. IDs are stable across installs so
// re-registration updates in place instead of duplicating.
func Groups() []Group {
	return []Group{
		{
			ID:          "builtin-rc4-utils",
			Name:        "RC4 Encryption",
			Description: "RC4 encryption and decryption helpers",
			Sources:     []string{rc4Encrypt, rc4Decrypt},
		},
		{
			ID:          "builtin-math-utils",
			Name:        "Math Utilities",
			Description: "Number theory helpers",
			Sources:     []string{factorial, primeCheck},
		},
	}
}

// Register synthesizes and registers every default group. Records already in
// the registry keep their enabled flags; default functions start disabled.
func Register(ctx context.Context, logger *slog.Logger, reg *registry.Registry) error {
	log := logger.With("component", "builtins")
	for _, group := range Groups() {
		// An existing record from a prior hydration wins; re-registering
		// would reset user enable choices.
		if members := reg.CollectionMembers(group.ID); len(members) > 0 {
			continue
		}

		var candidates []*synth.Candidate
		for _, src := range group.Sources {
			batch, err := synth.SynthesizeBatch(src)
			if err != nil {
				return fmt.Errorf("synthesizing %s: %w", group.Name, err)
			}
			candidates = append(candidates, batch...)
		}

		_, err := reg.AddBatch(ctx, candidates, registry.AddOptions{
			CollectionID: group.ID,
			Name:         group.Name,
			Description:  group.Description,
			Origin:       registry.OriginDefault,
		})
		if err != nil {
			return fmt.Errorf("registering %s: %w", group.Name, err)
		}
		log.Info("registered default collection", "collection", group.Name, "functions", len(candidates))
	}
	return nil
}

const rc4Encrypt = `/**
 * @description Encrypt plaintext with RC4 and return the ciphertext as hex
 * @param {string} key Encryption key
 * @param {string} plaintext Text to encrypt
 * @callable
 */
function rc4_encrypt(key, plaintext) {
    const bytes = rc4_stream(key, plaintext.split('').map(c => c.charCodeAt(0)));
    return bytes.map(b => b.toString(16).padStart(2, '0')).join('');
}

/**
 * @description RC4 keystream application shared by encrypt and decrypt
 * @internal
 */
function rc4_stream(key, input) {
    const S = [];
    for (let i = 0; i < 256; i++) S[i] = i;
    let j = 0;
    for (let i = 0; i < 256; i++) {
        j = (j + S[i] + key.charCodeAt(i % key.length)) % 256;
        [S[i], S[j]] = [S[j], S[i]];
    }
    const out = [];
    let i = 0;
    j = 0;
    for (const byte of input) {
        i = (i + 1) % 256;
        j = (j + S[i]) % 256;
        [S[i], S[j]] = [S[j], S[i]];
        out.push(byte ^ S[(S[i] + S[j]) % 256]);
    }
    return out;
}`

const rc4Decrypt = `/**
 * @description Decrypt RC4 ciphertext given as hex and return the plaintext
 * @param {string} key Encryption key
 * @param {string} ciphertext Hex-encoded ciphertext
 * @callable
 */
function rc4_decrypt(key, ciphertext) {
    const bytes = [];
    for (let i = 0; i < ciphertext.length; i += 2) {
        bytes.push(parseInt(ciphertext.substr(i, 2), 16));
    }
    return rc4_stream(key, bytes).map(b => String.fromCharCode(b)).join('');
}`

const factorial = `/**
 * @description Compute the factorial of a non-negative integer
 * @param {number} n Non-negative integer
 */
function factorial(n) {
    if (n < 0) throw new Error('factorial of negative number');
    let result = 1;
    for (let i = 2; i <= n; i++) result *= i;
    return result;
}`

const primeCheck = `/**
 * @description Check whether a number is prime
 * @param {number} n Integer to test
 */
function prime_check(n) {
    if (n < 2) return false;
    for (let i = 2; i * i <= n; i++) {
        if (n % i === 0) return false;
    }
    return true;
}`
