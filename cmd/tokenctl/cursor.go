package main

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/hxuan190/token-aggregator/internal/aggregator/services/pagination"
)

type cursorInfo struct {
	Offset             int     `json:"offset"`
	BitArraySize       int     `json:"bitArraySize"`
	HashFunctionsCount int     `json:"hashFunctionsCount"`
	EncodedBitsLength  int     `json:"encodedBitsLength"`
	FillRatio          float64 `json:"fillRatio"`
	FalsePositiveRate  float64 `json:"estimatedFalsePositiveRate"`
}

func cursorCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "cursor",
		Short: "Cursor utilities",
	}
	c.AddCommand(&cobra.Command{
		Use:   "decode <cursor>",
		Short: "Validates a cursor and prints its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return decodeCursor(c.OutOrStdout(), args[0])
		},
	})
	return c
}

func decodeCursor(w io.Writer, raw string) error {
	cursor, err := pagination.DecodeCursor(raw)
	if err != nil {
		return err
	}
	filter, err := cursor.Filter()
	if err != nil {
		return err
	}

	out, err := sonic.ConfigStd.MarshalIndent(cursorInfo{
		Offset:             cursor.Offset,
		BitArraySize:       cursor.BitArraySize,
		HashFunctionsCount: cursor.HashFunctionsCount,
		EncodedBitsLength:  len(cursor.BloomFilterBits),
		FillRatio:          filter.FillRatio(),
		FalsePositiveRate:  filter.EstimatedFalsePositiveRate(),
	}, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
