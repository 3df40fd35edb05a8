package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/lightninglabs/lndclient"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()

	app.Name = "lnaddr-cli"
	app.Usage = "Cli for lnaddrd"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "server",
			Value: "http://127.0.0.1:9898",
			Usage: "lnaddrd admin RPC address",
		},
		&cli.StringFlag{
			Name:  "host",
			Value: "localhost:10009",
			Usage: "lnd instance rpc address",
		},
		&cli.StringFlag{
			Name:  "network",
			Value: "regtest",
			Usage: "the network",
		},
		&cli.StringFlag{
			Name:  "macpath",
			Usage: "Path to lnd's mac dir",
		},
		&cli.StringFlag{
			Name:  "tlspath",
			Usage: "Path to lnd's tls cert",
		},
	}
	app.Commands = append(
		app.Commands, payRequestCommand, addUserCommand,
		delUserCommand,
	)

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[lnaddr-cli] %v\n", err)
	os.Exit(1)
}

func get(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("GET request error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}

	return json.Unmarshal(body, &out)
}

// rpcCall posts a JSON-RPC request to the lnaddrd admin listener and
// prints the raw result.
func rpcCall(ctx *cli.Context, method string, params interface{}) error {
	reqBody, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}

	resp, err := http.Post(
		ctx.String("server")+"/rpc", "application/json",
		bytes.NewReader(reqBody),
	)
	if err != nil {
		return fmt.Errorf("POST request error: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("could not parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code,
			rpcResp.Error.Message)
	}

	fmt.Println(string(rpcResp.Result))
	return nil
}

func getLND(ctx *cli.Context) (*lndclient.GrpcLndServices, error) {
	return lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:  ctx.String("host"),
		Network:     lndclient.Network(ctx.String("network")),
		MacaroonDir: ctx.String("macpath"),
		TLSPath:     ctx.String("tlspath"),
	})
}
