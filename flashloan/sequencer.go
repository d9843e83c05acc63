package flashloan

import "github.com/gagliardetto/solana-go"

// Sequence orders loan legs around userOps as [borrow_1..borrow_n, userOps, repay_n..repay_1].
// Repayments unwind innermost-first so nested positions close in reverse order of opening.
func Sequence(legs []Leg, userOps []solana.Instruction) []solana.Instruction {
	out := make([]solana.Instruction, 0, 2*len(legs)+len(userOps))
	for _, leg := range legs {
		out = append(out, leg.Borrow)
	}
	out = append(out, userOps...)
	for i := len(legs) - 1; i >= 0; i-- {
		out = append(out, legs[i].Repay)
	}
	return out
}
