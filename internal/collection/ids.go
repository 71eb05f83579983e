package collection

import (
	"fmt"
	"regexp"
	"strconv"
)

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// NextID returns prefix followed by one more than the largest numeric
// suffix among ids, zero-padded to width. Ids without a numeric suffix
// count as zero, so an empty list yields the first id.
func NextID(prefix string, width int, ids []string) string {
	highest := 0
	for _, id := range ids {
		if m := trailingDigits.FindStringSubmatch(id); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
				highest = n
			}
		}
	}
	return fmt.Sprintf("%s%0*d", prefix, width, highest+1)
}
