// Command walletrpc-cli is a thin REST client for walletrpcd, in the
// same spirit as lncli: one subcommand per wallet facade operation,
// talking JSON over HTTPS rather than a generated gRPC stub.
package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "walletrpc-cli"
	app.Usage = "query and drive a walletrpcd instance over its REST gateway"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "rpcserver", Value: "localhost:8449", Usage: "host:port of the REST gateway"},
		cli.StringFlag{Name: "macaroon", Usage: "hex-encoded admin macaroon"},
		cli.BoolFlag{Name: "insecure", Usage: "skip TLS certificate verification, for self-signed local certs"},
	}
	app.Commands = []cli.Command{
		addressCommand,
		balanceCommand,
		utxosCommand,
		transactionsCommand,
		transactionCommand,
		detailsCommand,
		combineCommand,
		finalizeCommand,
		broadcastCommand,
		reunblindCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func restClient(ctx *cli.Context) *restClientCfg {
	return &restClientCfg{
		base:     "https://" + ctx.GlobalString("rpcserver"),
		macaroon: ctx.GlobalString("macaroon"),
		http: &http.Client{Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: ctx.GlobalBool("insecure")},
		}},
	}
}

type restClientCfg struct {
	base     string
	macaroon string
	http     *http.Client
}

func (c *restClientCfg) get(path string) ([]byte, error) {
	return c.do("GET", path, nil)
}

func (c *restClientCfg) post(path string, body interface{}) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return c.do("POST", path, bytes.NewReader(raw))
}

func (c *restClientCfg) do(method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.macaroon != "" {
		req.Header.Set("Grpc-Metadata-macaroon", c.macaroon)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("walletrpc-cli: %s %s: %s", method, path, data)
	}
	return data, nil
}

func printJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

var addressCommand = cli.Command{
	Name:  "address",
	Usage: "derive the next (or a specific) confidential address",
	Flags: []cli.Flag{cli.UintFlag{Name: "index", Usage: "derivation index; omit to use the next unused one"}},
	Action: func(ctx *cli.Context) error {
		path := "/v1/address"
		if ctx.IsSet("index") {
			path = fmt.Sprintf("%s?index=%d", path, ctx.Uint("index"))
		}
		data, err := restClient(ctx).get(path)
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var balanceCommand = cli.Command{
	Name:  "balance",
	Usage: "show per-asset unspent balance",
	Action: func(ctx *cli.Context) error {
		data, err := restClient(ctx).get("/v1/balance")
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var utxosCommand = cli.Command{
	Name:  "utxos",
	Usage: "list unspent outputs",
	Action: func(ctx *cli.Context) error {
		data, err := restClient(ctx).get("/v1/utxos")
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var transactionsCommand = cli.Command{
	Name:  "transactions",
	Usage: "list stored transactions",
	Action: func(ctx *cli.Context) error {
		data, err := restClient(ctx).get("/v1/transactions")
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var transactionCommand = cli.Command{
	Name:      "transaction",
	Usage:     "show a single stored transaction by txid",
	ArgsUsage: "<txid>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("walletrpc-cli: transaction requires exactly one txid argument")
		}
		data, err := restClient(ctx).get("/v1/transaction/" + ctx.Args().First())
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var detailsCommand = cli.Command{
	Name:      "details",
	Usage:     "analyse a base64 pset's balance impact and fee",
	ArgsUsage: "<base64_pset>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("walletrpc-cli: details requires exactly one pset argument")
		}
		data, err := restClient(ctx).post("/v1/pset/details", map[string]string{"pset": ctx.Args().First()})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var combineCommand = cli.Command{
	Name:      "combine",
	Usage:     "merge signatures across psets descending from a common template",
	ArgsUsage: "<base64_pset>...",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() < 2 {
			return fmt.Errorf("walletrpc-cli: combine requires at least two pset arguments")
		}
		data, err := restClient(ctx).post("/v1/pset/combine", map[string][]string{"psets": ctx.Args()})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var finalizeCommand = cli.Command{
	Name:      "finalize",
	Usage:     "finalize a fully-signed pset into a broadcastable transaction",
	ArgsUsage: "<base64_pset>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("walletrpc-cli: finalize requires exactly one pset argument")
		}
		data, err := restClient(ctx).post("/v1/pset/finalize", map[string]string{"pset": ctx.Args().First()})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var broadcastCommand = cli.Command{
	Name:      "applytx",
	Usage:     "fold a raw hex transaction into the wallet's view immediately",
	ArgsUsage: "<raw_hex>",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("walletrpc-cli: applytx requires exactly one raw hex argument")
		}
		data, err := restClient(ctx).post("/v1/tx/apply", map[string]string{"raw": ctx.Args().First()})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var reunblindCommand = cli.Command{
	Name:  "reunblind",
	Usage: "retry every output the wallet could not unblind the first time",
	Action: func(ctx *cli.Context) error {
		data, err := restClient(ctx).post("/v1/reunblind", struct{}{})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}
