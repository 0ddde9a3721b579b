package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/chazu/rgbvm/manifest"
	"github.com/chazu/rgbvm/pkg/bytecode"
	"github.com/chazu/rgbvm/store"
)

// handleEffectsCommand processes `rgbvm effects`, the effect library.
// Usage:
//
//	rgbvm effects add rainbow rainbow.asm
//	rgbvm effects list
//	rgbvm effects show rainbow
//	rgbvm effects fav rainbow
//	rgbvm effects unfav rainbow
//	rgbvm effects rm rainbow
func handleEffectsCommand(args []string, m *manifest.Manifest) error {
	if len(args) == 0 {
		return errors.New("usage: rgbvm effects <add|list|show|fav|unfav|rm> ...")
	}

	st, err := store.Open(m.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	sub, rest := args[0], args[1:]
	switch sub {
	case "add":
		if len(rest) != 2 {
			return errors.New("usage: rgbvm effects add <name> <file>")
		}
		data, err := encodedImage(rest[1])
		if err != nil {
			return err
		}
		e, err := st.Save(ctx, rest[0], data)
		if err != nil {
			return err
		}
		fmt.Printf("saved %q (%s, %d bytes)\n", e.Name, e.ID, len(e.Image))
	case "list", "ls":
		effects, err := st.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tFAV\tBYTES\tUPDATED\tID")
		for _, e := range effects {
			fav := ""
			if e.Favorite {
				fav = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
				e.Name, fav, len(e.Image), e.UpdatedAt.Local().Format("2006-01-02 15:04"), e.ID)
		}
		return tw.Flush()
	case "show":
		if len(rest) != 1 {
			return errors.New("usage: rgbvm effects show <name>")
		}
		e, err := st.Get(ctx, rest[0])
		if err != nil {
			return err
		}
		img, err := bytecode.ParseImage(e.Image)
		if err != nil {
			return fmt.Errorf("effect %q: %w", e.Name, err)
		}
		fmt.Print(bytecode.DisassembleWithName(e.Name, img))
	case "fav", "unfav":
		if len(rest) != 1 {
			return fmt.Errorf("usage: rgbvm effects %s <name>", sub)
		}
		return st.SetFavorite(ctx, rest[0], sub == "fav")
	case "rm":
		if len(rest) != 1 {
			return errors.New("usage: rgbvm effects rm <name>")
		}
		return st.Delete(ctx, rest[0])
	default:
		return fmt.Errorf("unknown effects command %q", sub)
	}
	return nil
}

// encodedImage returns the bytes to store or upload for path. Assembly
// sources are assembled into a headered image; image files are checked
// and passed through unchanged.
func encodedImage(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asm", ".s":
		img, err := readImage(path)
		if err != nil {
			return nil, err
		}
		return img.Marshal()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := bytecode.ParseImage(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}
