package bpv6

import "fmt"

func errUnexpectedVersion(got byte) error {
	return fmt.Errorf("bpv6: expected version 0x%02x, got 0x%02x", wireVersion, got)
}

func errMissingLastBlock() error {
	return fmt.Errorf("bpv6: stream ended without a last-block marker")
}

func errParserError() error {
	return fmt.Errorf("bpv6: parser in terminal error state")
}
