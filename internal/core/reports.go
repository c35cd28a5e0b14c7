package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"accounting-core/internal/money"
)

// ReportService serves the read projections. Every report is a pure read
// against the projection tables and the documents; none of them write.
type ReportService interface {
	ProfitLoss(ctx context.Context, companyID int, from, to time.Time) (*ProfitLossReport, error)
	BalanceSheet(ctx context.Context, companyID int, asOf time.Time) (*BalanceSheetReport, error)
	ARSummary(ctx context.Context, companyID int, asOf time.Time) (*AgingReport, error)
	APSummary(ctx context.Context, companyID int, asOf time.Time) (*AgingReport, error)
	AccountTransactions(ctx context.Context, companyID, accountID int, from, to time.Time) (*AccountStatement, error)
}

type reportService struct {
	pool *pgxpool.Pool
}

func NewReportService(pool *pgxpool.Pool) ReportService {
	return &reportService{pool: pool}
}

// ReportLine is one account's contribution to a P&L or balance sheet section.
type ReportLine struct {
	AccountID   int    `json:"account_id"`
	AccountCode string `json:"account_code"`
	AccountName string `json:"account_name"`
	Amount      string `json:"amount"`
}

type ProfitLossReport struct {
	From         time.Time    `json:"from"`
	To           time.Time    `json:"to"`
	Income       []ReportLine `json:"income"`
	Expenses     []ReportLine `json:"expenses"`
	TotalIncome  string       `json:"total_income"`
	TotalExpense string       `json:"total_expense"`
	NetProfit    string       `json:"net_profit"`
}

type BalanceSheetReport struct {
	AsOf             time.Time    `json:"as_of"`
	Assets           []ReportLine `json:"assets"`
	Liabilities      []ReportLine `json:"liabilities"`
	Equity           []ReportLine `json:"equity"`
	TotalAssets      string       `json:"total_assets"`
	TotalLiabilities string       `json:"total_liabilities"`
	TotalEquity      string       `json:"total_equity"`
	// RetainedEarnings folds lifetime income minus expense into the equity
	// side so the sheet balances without a closing entry.
	RetainedEarnings string `json:"retained_earnings"`
}

// AgingRow is one open document bucketed by age.
type AgingRow struct {
	DocumentID int       `json:"document_id"`
	Number     string    `json:"number"`
	PartyID    int       `json:"party_id"`
	PartyName  string    `json:"party_name"`
	DocDate    time.Time `json:"doc_date"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	Total      string    `json:"total"`
	Open       string    `json:"open"`
	Bucket     string    `json:"bucket"`
}

// AgingReport summarises open receivables or payables as of a date.
type AgingReport struct {
	AsOf      time.Time         `json:"as_of"`
	TotalOpen string            `json:"total_open"`
	Buckets   map[string]string `json:"buckets"`
	Rows      []AgingRow        `json:"rows"`
}

// StatementLine is one ledger movement on an account.
type StatementLine struct {
	EntryID     int       `json:"entry_id"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Debit       string    `json:"debit"`
	Credit      string    `json:"credit"`
	Balance     string    `json:"balance"`
}

// AccountStatement is the drilldown for one account: an opening balance signed
// on the account's normal balance, then per-entry lines in (date, id) order.
type AccountStatement struct {
	AccountID      int             `json:"account_id"`
	AccountCode    string          `json:"account_code"`
	AccountName    string          `json:"account_name"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	OpeningBalance string          `json:"opening_balance"`
	ClosingBalance string          `json:"closing_balance"`
	Lines          []StatementLine `json:"lines"`
}

func (s *reportService) ProfitLoss(ctx context.Context, companyID int, from, to time.Time) (*ProfitLossReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.code, a.name, a.type,
		       COALESCE(SUM(b.credit_total - b.debit_total), 0)
		FROM accounts a
		JOIN account_balances b ON b.account_id = a.id AND b.company_id = a.company_id
		WHERE a.company_id = $1 AND a.type IN ('INCOME','EXPENSE')
		  AND b.day BETWEEN $2 AND $3
		GROUP BY a.id, a.code, a.name, a.type
		ORDER BY a.code
	`, companyID, money.Day(from), money.Day(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query profit and loss: %w", err)
	}
	defer rows.Close()

	report := &ProfitLossReport{From: money.Day(from), To: money.Day(to)}
	var totalIncome, totalExpense decimal.Decimal
	for rows.Next() {
		var (
			id         int
			code, name string
			typ        AccountType
			net        decimal.Decimal // credit - debit
		)
		if err := rows.Scan(&id, &code, &name, &typ, &net); err != nil {
			return nil, fmt.Errorf("failed to scan profit and loss row: %w", err)
		}
		if typ == Income {
			totalIncome = totalIncome.Add(net)
			report.Income = append(report.Income, ReportLine{id, code, name, net.StringFixed(2)})
		} else {
			expense := net.Neg() // expense grows on the debit side
			totalExpense = totalExpense.Add(expense)
			report.Expenses = append(report.Expenses, ReportLine{id, code, name, expense.StringFixed(2)})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profit and loss iteration error: %w", err)
	}
	report.TotalIncome = money.Round2(totalIncome).StringFixed(2)
	report.TotalExpense = money.Round2(totalExpense).StringFixed(2)
	report.NetProfit = money.Round2(totalIncome.Sub(totalExpense)).StringFixed(2)
	return report, nil
}

func (s *reportService) BalanceSheet(ctx context.Context, companyID int, asOf time.Time) (*BalanceSheetReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.code, a.name, a.type,
		       COALESCE(SUM(b.debit_total), 0), COALESCE(SUM(b.credit_total), 0)
		FROM accounts a
		JOIN account_balances b ON b.account_id = a.id AND b.company_id = a.company_id
		WHERE a.company_id = $1 AND b.day <= $2
		GROUP BY a.id, a.code, a.name, a.type
		ORDER BY a.code
	`, companyID, money.Day(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to query balance sheet: %w", err)
	}
	defer rows.Close()

	report := &BalanceSheetReport{AsOf: money.Day(asOf)}
	var totalAssets, totalLiabilities, totalEquity, retained decimal.Decimal
	for rows.Next() {
		var (
			id            int
			code, name    string
			typ           AccountType
			debit, credit decimal.Decimal
		)
		if err := rows.Scan(&id, &code, &name, &typ, &debit, &credit); err != nil {
			return nil, fmt.Errorf("failed to scan balance sheet row: %w", err)
		}
		switch typ {
		case Asset:
			bal := debit.Sub(credit)
			totalAssets = totalAssets.Add(bal)
			report.Assets = append(report.Assets, ReportLine{id, code, name, bal.StringFixed(2)})
		case Liability:
			bal := credit.Sub(debit)
			totalLiabilities = totalLiabilities.Add(bal)
			report.Liabilities = append(report.Liabilities, ReportLine{id, code, name, bal.StringFixed(2)})
		case Equity:
			bal := credit.Sub(debit)
			totalEquity = totalEquity.Add(bal)
			report.Equity = append(report.Equity, ReportLine{id, code, name, bal.StringFixed(2)})
		case Income:
			retained = retained.Add(credit.Sub(debit))
		case Expense:
			retained = retained.Sub(debit.Sub(credit))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("balance sheet iteration error: %w", err)
	}
	report.TotalAssets = money.Round2(totalAssets).StringFixed(2)
	report.TotalLiabilities = money.Round2(totalLiabilities).StringFixed(2)
	report.RetainedEarnings = money.Round2(retained).StringFixed(2)
	report.TotalEquity = money.Round2(totalEquity.Add(retained)).StringFixed(2)
	return report, nil
}

// agingBucket labels a document's age in days against the as-of date.
func agingBucket(days int) string {
	switch {
	case days <= 0:
		return "current"
	case days <= 30:
		return "1-30"
	case days <= 60:
		return "31-60"
	case days <= 90:
		return "61-90"
	default:
		return "90+"
	}
}

func (s *reportService) ARSummary(ctx context.Context, companyID int, asOf time.Time) (*AgingReport, error) {
	return s.aging(ctx, companyID, asOf, `
		SELECT i.id, i.number, i.customer_id, c.name, i.invoice_date, i.due_date, i.total, i.total - i.amount_paid
		FROM invoices i
		JOIN customers c ON c.id = i.customer_id AND c.company_id = i.company_id
		WHERE i.company_id = $1
		  AND i.status IN ('POSTED','PARTIAL')
		  AND i.invoice_date <= $2
		ORDER BY i.invoice_date, i.id
	`)
}

func (s *reportService) APSummary(ctx context.Context, companyID int, asOf time.Time) (*AgingReport, error) {
	return s.aging(ctx, companyID, asOf, `
		SELECT b.id, b.number, b.vendor_id, v.name, b.bill_date, b.due_date, b.total, b.total - b.amount_paid
		FROM purchase_bills b
		JOIN vendors v ON v.id = b.vendor_id AND v.company_id = b.company_id
		WHERE b.company_id = $1
		  AND b.status IN ('POSTED','PARTIAL')
		  AND b.bill_date <= $2
		ORDER BY b.bill_date, b.id
	`)
}

func (s *reportService) aging(ctx context.Context, companyID int, asOf time.Time, query string) (*AgingReport, error) {
	day := money.Day(asOf)
	rows, err := s.pool.Query(ctx, query, companyID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query aging: %w", err)
	}
	defer rows.Close()

	report := &AgingReport{AsOf: day, Buckets: map[string]string{}}
	var totalOpen decimal.Decimal
	bucketTotals := map[string]decimal.Decimal{}
	for rows.Next() {
		var r AgingRow
		var total, open decimal.Decimal
		if err := rows.Scan(&r.DocumentID, &r.Number, &r.PartyID, &r.PartyName,
			&r.DocDate, &r.DueDate, &total, &open); err != nil {
			return nil, fmt.Errorf("failed to scan aging row: %w", err)
		}
		if !open.IsPositive() {
			continue
		}
		// Age against the due date when one exists, else the document date.
		ageFrom := r.DocDate
		if r.DueDate != nil {
			ageFrom = *r.DueDate
		}
		days := int(day.Sub(money.Day(ageFrom)).Hours() / 24)
		r.Bucket = agingBucket(days)
		r.Total = total.StringFixed(2)
		r.Open = open.StringFixed(2)
		bucketTotals[r.Bucket] = bucketTotals[r.Bucket].Add(open)
		totalOpen = totalOpen.Add(open)
		report.Rows = append(report.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aging iteration error: %w", err)
	}
	for _, b := range []string{"current", "1-30", "31-60", "61-90", "90+"} {
		report.Buckets[b] = bucketTotals[b].StringFixed(2)
	}
	report.TotalOpen = money.Round2(totalOpen).StringFixed(2)
	return report, nil
}

func (s *reportService) AccountTransactions(ctx context.Context, companyID, accountID int, from, to time.Time) (*AccountStatement, error) {
	var st AccountStatement
	var typ AccountType
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, name, type FROM accounts WHERE id = $1 AND company_id = $2
	`, accountID, companyID).Scan(&st.AccountID, &st.AccountCode, &st.AccountName, &typ)
	if err != nil {
		return nil, E(KindNotFound, "account %d not found", accountID)
	}
	st.From = money.Day(from)
	st.To = money.Day(to)

	// Opening balance signed on the account's normal balance.
	var openDebit, openCredit decimal.Decimal
	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
		FROM journal_lines l
		JOIN journal_entries e ON e.id = l.entry_id
		WHERE l.company_id = $1 AND l.account_id = $2 AND e.entry_date < $3
	`, companyID, accountID, st.From).Scan(&openDebit, &openCredit)
	if err != nil {
		return nil, fmt.Errorf("failed to compute opening balance: %w", err)
	}
	balance := openDebit.Sub(openCredit)
	if NormalBalanceFor(typ) == CreditNormal {
		balance = openCredit.Sub(openDebit)
	}
	st.OpeningBalance = money.Round2(balance).StringFixed(2)

	rows, err := s.pool.Query(ctx, `
		SELECT e.id, e.entry_date, e.description, l.debit, l.credit
		FROM journal_lines l
		JOIN journal_entries e ON e.id = l.entry_id
		WHERE l.company_id = $1 AND l.account_id = $2 AND e.entry_date BETWEEN $3 AND $4
		ORDER BY e.entry_date, e.id, l.id
	`, companyID, accountID, st.From, st.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query account transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line StatementLine
		var debit, credit decimal.Decimal
		if err := rows.Scan(&line.EntryID, &line.Date, &line.Description, &debit, &credit); err != nil {
			return nil, fmt.Errorf("failed to scan account transaction: %w", err)
		}
		if NormalBalanceFor(typ) == DebitNormal {
			balance = balance.Add(debit).Sub(credit)
		} else {
			balance = balance.Add(credit).Sub(debit)
		}
		line.Debit = debit.StringFixed(2)
		line.Credit = credit.StringFixed(2)
		line.Balance = money.Round2(balance).StringFixed(2)
		st.Lines = append(st.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account transaction iteration error: %w", err)
	}
	st.ClosingBalance = money.Round2(balance).StringFixed(2)
	return &st, nil
}
