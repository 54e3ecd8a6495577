package bitcoind

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	dataDirRE     = regexp.MustCompile(`(?m)^\s*datadir\s*=\s*([^\s]+)`)
	rpcUserRE     = regexp.MustCompile(`(?m)^\s*rpcuser\s*=\s*([^\s]+)`)
	rpcPasswordRE = regexp.MustCompile(`(?m)^\s*rpcpassword\s*=\s*([^\s]+)`)
)

// ExtractRPCParams reads the RPC credentials of a bitcoind node from its
// configuration file. The auth cookie of the given network is preferred; the
// rpcuser and rpcpassword options are used if there is no cookie. The network
// name is the chaincfg name: mainnet, testnet3, regtest or signet.
func ExtractRPCParams(networkName,
	bitcoindConfigPath string) (string, string, error) {

	configContents, err := os.ReadFile(bitcoindConfigPath)
	if err != nil {
		return "", "", err
	}

	// The cookie lives in the data directory, which defaults to the
	// directory of the configuration file.
	dataDir := filepath.Dir(bitcoindConfigPath)
	if m := dataDirRE.FindSubmatch(configContents); m != nil {
		dataDir = string(m[1])
	}

	chainDir := ""
	switch networkName {
	case "mainnet":
	case "regtest", "testnet3", "signet":
		chainDir = networkName
	default:
		return "", "", fmt.Errorf("unexpected network name %v",
			networkName)
	}

	cookie, err := os.ReadFile(filepath.Join(dataDir, chainDir, ".cookie"))
	if err == nil {
		splitCookie := strings.Split(
			strings.TrimSpace(string(cookie)), ":",
		)
		if len(splitCookie) == 2 {
			return splitCookie[0], splitCookie[1], nil
		}
	}

	userSubmatches := rpcUserRE.FindSubmatch(configContents)
	if userSubmatches == nil {
		return "", "", errors.New("unable to find rpcuser in config")
	}

	passSubmatches := rpcPasswordRE.FindSubmatch(configContents)
	if passSubmatches == nil {
		return "", "", errors.New("unable to find rpcpassword in " +
			"config")
	}

	return string(userSubmatches[1]), string(passSubmatches[1]), nil
}
