package main

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// call opens a short-lived connection to addr, sends a single JSON-RPC
// request for method with params, and returns the raw reply line.
// quorumkvctl is a one-shot CLI, so it never reuses a connection across
// invocations the way quorumkvd's inter-node transport does.
func call(addr, method string, params map[string]any) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()

	id := uuid.NewString()
	req, err := encodeRequest(id, method, params)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	conn.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write(append(req, '\n')); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read reply: %w", err)
		}
		return "", fmt.Errorf("read reply: connection closed with no reply")
	}
	return scanner.Text(), nil
}
