package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ehrlich-b/voxterm/internal/auth"
)

func hashPINCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-pin",
		Short: "Hash a PIN for the pin_hash config field",
		Long:  "Prompts for a PIN twice (or reads one line from stdin when it is not a terminal) and prints its bcrypt hash.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := readPIN(os.Stdin, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			hash, err := auth.HashPIN(pin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readPIN(in *os.File, prompt io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading pin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(prompt, "PIN: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("reading pin: %w", err)
	}
	fmt.Fprint(prompt, "Again: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("reading pin: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("pins do not match")
	}
	return string(first), nil
}
