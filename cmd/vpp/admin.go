package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type adminArguments struct {
	Url   string
	Token string
}

var adminArgs adminArguments

var adminClient = &http.Client{Timeout: 2 * time.Minute}

// post sends req to the admin API and prints the indented reply.
func post(path string, req any) error {
	if req == nil {
		req = struct{}{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	hreq, err := http.NewRequest(http.MethodPost, strings.TrimRight(adminArgs.Url, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")
	if adminArgs.Token != "" {
		hreq.Header.Set("Authorization", "Bearer "+adminArgs.Token)
	}
	resp, err := adminClient.Do(hreq)
	if err != nil {
		fmt.Printf("request err:%v\n", err)
		return err
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, buf, "", "  "); err != nil {
		out.Reset()
		out.Write(buf)
	}
	fmt.Println(out.String())
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s", path, resp.Status)
	}
	return nil
}
