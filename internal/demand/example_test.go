package demand_test

import (
	"fmt"

	"pmaxtools/internal/demand"
)

// Example_solve solves one row of fitted parameters on the exact branch
func Example_solve() {
	res, err := demand.Solve(4.1849, 0.00518467, 5.31159)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println(res.Method)
	fmt.Println(demand.FormatValue(res.Analytic))
	fmt.Println(demand.FormatValue(res.Approximate))
	// Output:
	// exact_lambert_w
	// 4.1208
	// 4.107
}

// Example_directBranch shows the fallback below e/ln(10)
func Example_directBranch() {
	res, _ := demand.Solve(1, 1, 0.5)
	fmt.Println(res.Method, res.Analytic)
	fmt.Println(res.Method.Rationale())
	// Output:
	// direct_slope 1
	// Note: Solved directly referencing empirical slope.
}
