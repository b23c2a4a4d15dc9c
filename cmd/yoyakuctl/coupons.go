package main

import (
	"fmt"
	"os"
	"strings"

	"yoyaku/internal/models"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

type couponSeed struct {
	Code       string `yaml:"code"`
	Amount     int    `yaml:"amount"`
	ValidFrom  string `yaml:"valid_from"`
	ValidUntil string `yaml:"valid_until"`
}

type couponFile struct {
	Coupons []couponSeed `yaml:"coupons"`
}

func newCouponsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coupons",
		Short: "Manage discount coupons",
	}
	cmd.AddCommand(newCouponsImportCmd(opts))
	return cmd
}

func newCouponsImportCmd(opts *rootOptions) *cobra.Command {
	var file string

	c := &cobra.Command{
		Use:   "import",
		Short: "Create or update coupons from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			coupons, err := parseCoupons(data)
			if err != nil {
				return err
			}

			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			for _, c := range coupons {
				if err := e.db.UpsertCoupon(cmd.Context(), c); err != nil {
					return fmt.Errorf("coupon %s: %w", c.Code, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d coupons\n", len(coupons))
			return nil
		},
	}

	c.Flags().StringVar(&file, "file", "", "coupons YAML file")
	_ = c.MarkFlagRequired("file")
	return c
}

func parseCoupons(data []byte) ([]*models.Coupon, error) {
	var f couponFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse coupons: %w", err)
	}

	out := make([]*models.Coupon, 0, len(f.Coupons))
	seen := make(map[string]bool, len(f.Coupons))
	for i, s := range f.Coupons {
		code := strings.TrimSpace(s.Code)
		if code == "" {
			return nil, fmt.Errorf("coupon #%d: code is required", i+1)
		}
		if seen[code] {
			return nil, fmt.Errorf("coupon %s: duplicate code", code)
		}
		seen[code] = true
		if s.Amount <= 0 {
			return nil, fmt.Errorf("coupon %s: amount must be positive", code)
		}
		from, err := models.ParseDate(s.ValidFrom)
		if err != nil {
			return nil, fmt.Errorf("coupon %s: valid_from: %w", code, err)
		}
		until, err := models.ParseDate(s.ValidUntil)
		if err != nil {
			return nil, fmt.Errorf("coupon %s: valid_until: %w", code, err)
		}
		if until.Before(from) {
			return nil, fmt.Errorf("coupon %s: valid_until is before valid_from", code)
		}
		out = append(out, &models.Coupon{Code: code, Amount: s.Amount, ValidFrom: from, ValidUntil: until})
	}
	return out, nil
}
