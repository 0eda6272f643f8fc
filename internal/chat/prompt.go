// Package chat builds the assistant prompt and graph payloads for the
// conversational finance assistant.
package chat

import (
	"fmt"
	"strings"

	"sage/internal/core"

	"github.com/shopspring/decimal"
)

const (
	topCategoryCount       = 5
	recentTransactionCount = 10
	lineChartDays          = 10
)

const graphInstructions = `If the user asks for a graph or visualization, tell them you can generate a simple graph for them. When they ask for a specific graph (spending by category, spending over time, etc.), respond with a message that includes the text "[GENERATE_GRAPH:type]" where type is one of: bar, pie, or line. This will trigger the UI to display the appropriate graph.

IMPORTANT: When users ask how their finances "look like" or request to "see" their spending, automatically generate an appropriate visualization:
- For general questions about overall finances or spending patterns, include "[GENERATE_GRAPH:pie]" in your response
- For questions about spending trends or changes over time, include "[GENERATE_GRAPH:line]" in your response
- For questions about spending categories or budget comparisons, include "[GENERATE_GRAPH:bar]" in your response

Always explain what the graph shows and how it relates to their financial situation.`

const promptFooter = `Use this information to provide personalized financial insights, budget recommendations, and answer questions about the user's spending patterns. If the user asks about a specific category or time period not mentioned above, you can tell them you don't have that information.

Always be helpful, supportive, and non-judgmental about the user's spending habits. Focus on providing actionable advice to help them improve their financial well-being.`

// BuildSystemPrompt renders the assistant's system prompt from the user's
// transactions and budgets. Without transactions it falls back to a
// variant that nudges the user to connect an account.
func BuildSystemPrompt(transactions []core.Transaction, user *core.User) string {
	if len(transactions) == 0 {
		return strings.Join([]string{
			"You are Sage, a financial AI assistant. You help users understand their finances and make better financial decisions.",
			"Currently, the user has no transaction data available. Encourage them to connect their bank account to get personalized insights.",
			graphInstructions,
			promptFooter,
		}, "\n\n")
	}

	snapshot := core.Aggregate(transactions)

	var b strings.Builder
	b.WriteString("You are Sage, a financial AI assistant. You help users understand their finances and make better financial decisions.\n\n")
	b.WriteString("Here is the user's financial data:\n\n")
	fmt.Fprintf(&b, "Total Spending: $%s\n\n", snapshot.TotalSpending.StringFixed(2))

	b.WriteString("Top Spending Categories:\n")
	for _, ca := range snapshot.TopCategories(topCategoryCount) {
		fmt.Fprintf(&b, "- %s: $%s\n", ca.Label, ca.Amount.StringFixed(2))
	}

	b.WriteString("\nRecent Transactions:\n")
	recent := core.RecentFirst(transactions)
	if len(recent) > recentTransactionCount {
		recent = recent[:recentTransactionCount]
	}
	for _, tx := range recent {
		vendor := tx.VendorName
		if vendor == "" {
			vendor = "Unknown"
		}
		fmt.Fprintf(&b, "- %s: $%s at %s (%s)\n", tx.Date, tx.Amount.StringFixed(2), vendor, tx.Category)
	}

	b.WriteString("\nUser's Budget Settings:\n")
	weekly, biweekly, monthly := budgets(user)
	fmt.Fprintf(&b, "- Weekly Budget: $%s\n", weekly.String())
	fmt.Fprintf(&b, "- Bi-weekly Budget: $%s\n", biweekly.String())
	fmt.Fprintf(&b, "- Monthly Budget: $%s\n", monthly.String())

	b.WriteString("\n")
	b.WriteString(promptFooter)
	b.WriteString("\n\n")
	b.WriteString(graphInstructions)

	return b.String()
}

func budgets(user *core.User) (weekly, biweekly, monthly decimal.Decimal) {
	weekly = decimal.NewFromInt(500)
	biweekly = decimal.NewFromInt(1000)
	monthly = decimal.NewFromInt(2000)
	if user == nil {
		return
	}
	if user.WeeklyBudget.IsPositive() {
		weekly = user.WeeklyBudget
	}
	if user.BiweeklyBudget.IsPositive() {
		biweekly = user.BiweeklyBudget
	}
	if user.MonthlyBudget.IsPositive() {
		monthly = user.MonthlyBudget
	}
	return
}
