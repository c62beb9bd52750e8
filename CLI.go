package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/manningwu07/namer/server"
)

// PredictCLI reads one method body per line and prints the server's ranked
// name predictions. "exit" or EOF quits.
func PredictCLI(serverURL string, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	fmt.Fprintln(out, "PredictCLI connected to prediction server. Type 'exit' to quit.")
	for {
		fmt.Fprint(out, "Body: ")
		input, readErr := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "exit" {
			return nil
		}
		if input != "" {
			if err := predictOnce(serverURL, input, out); err != nil {
				fmt.Fprintln(out, "Error:", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func predictOnce(serverURL, body string, out io.Writer) error {
	reqBody, err := json.Marshal(server.PredictRequest{Body: body})
	if err != nil {
		return err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/predict", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	var result server.PredictResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	for i, p := range result.Predictions {
		fmt.Fprintf(out, "%d. %s (%.4f)\n", i+1, p.Name, p.Score)
	}
	return nil
}
