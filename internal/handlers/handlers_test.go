package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"budget-tracker/internal/auth"
	applog "budget-tracker/internal/log"
	"budget-tracker/internal/models"
	"budget-tracker/internal/storage"

	"github.com/stretchr/testify/suite"
	"github.com/xuri/excelize/v2"
)

type HandlersTestSuite struct {
	suite.Suite
	db     *storage.DB
	h      *Handlers
	server *httptest.Server
}

func (suite *HandlersTestSuite) SetupTest() {
	db, err := storage.NewDB(":memory:")
	suite.Require().NoError(err, "failed to create database")
	suite.db = db

	logger := applog.New(applog.Config{Output: io.Discard})
	h, err := NewHandlers(db, auth.NewSigner("test-secret"), Options{Logger: logger})
	suite.Require().NoError(err, "failed to create handlers")
	suite.h = h

	suite.server = httptest.NewServer(NewRouter(h, logger))
}

func (suite *HandlersTestSuite) TearDownTest() {
	suite.server.Close()
	if suite.db != nil {
		suite.db.Close()
	}
}

func (suite *HandlersTestSuite) newClient() *http.Client {
	jar, err := cookiejar.New(nil)
	suite.Require().NoError(err)
	return &http.Client{Jar: jar}
}

func noFollow(c *http.Client) *http.Client {
	return &http.Client{
		Jar: c.Jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (suite *HandlersTestSuite) get(c *http.Client, path string) (*http.Response, string) {
	resp, err := c.Get(suite.server.URL + path)
	suite.Require().NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	suite.Require().NoError(err)
	return resp, string(body)
}

func (suite *HandlersTestSuite) post(c *http.Client, path string, form url.Values) (*http.Response, string) {
	resp, err := c.PostForm(suite.server.URL+path, form)
	suite.Require().NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	suite.Require().NoError(err)
	return resp, string(body)
}

func (suite *HandlersTestSuite) register(c *http.Client, username, email, password string) (*http.Response, string) {
	return suite.post(c, "/register", url.Values{
		"username": {username},
		"email":    {email},
		"password": {password},
	})
}

func (suite *HandlersTestSuite) login(c *http.Client, email, password string) (*http.Response, string) {
	return suite.post(c, "/login", url.Values{"email": {email}, "password": {password}})
}

// signIn registers a user, logs in with the returned client and returns the stored user.
func (suite *HandlersTestSuite) signIn(username string) (*http.Client, *models.User) {
	c := suite.newClient()
	email := username + "@example.com"

	resp, _ := suite.register(c, username, email, "pw")
	suite.Require().Equal("/login", resp.Request.URL.Path)
	resp, _ = suite.login(c, email, "pw")
	suite.Require().Equal("/dashboard", resp.Request.URL.Path)

	user, err := suite.db.GetUserByEmail(context.Background(), email)
	suite.Require().NoError(err)
	return c, user
}

func (suite *HandlersTestSuite) addExpense(c *http.Client, date, category, amount, note string) (*http.Response, string) {
	return suite.post(c, "/add", url.Values{
		"date":     {date},
		"category": {category},
		"amount":   {amount},
		"note":     {note},
	})
}

func (suite *HandlersTestSuite) expenses(userID int64) []models.Expense {
	list, err := suite.db.ListExpenses(context.Background(), userID)
	suite.Require().NoError(err)
	return list
}

func (suite *HandlersTestSuite) summary(c *http.Client) map[string]float64 {
	resp, body := suite.get(c, "/api/category-summary")
	suite.Require().Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("application/json", resp.Header.Get("Content-Type"))

	var got map[string]float64
	suite.Require().NoError(json.Unmarshal([]byte(body), &got))
	return got
}

func (suite *HandlersTestSuite) TestLandingPage() {
	c := suite.newClient()
	resp, body := suite.get(c, "/")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Contains(body, "Track where your money goes")
	suite.Equal("nosniff", resp.Header.Get("X-Content-Type-Options"))
	suite.NotEmpty(resp.Header.Get(applog.RequestIDHeader))

	c, _ = suite.signIn("alice")
	resp, _ = suite.get(c, "/")
	suite.Equal("/dashboard", resp.Request.URL.Path)
}

func (suite *HandlersTestSuite) TestRegisterAndLogin() {
	c := suite.newClient()

	resp, body := suite.register(c, "  alice  ", " a@x.io ", "pw")
	suite.Equal("/login", resp.Request.URL.Path)
	suite.Contains(body, "Account created. Please login.")

	// Registration does not log the user in.
	resp, _ = suite.get(noFollow(c), "/dashboard")
	suite.Equal(http.StatusFound, resp.StatusCode)

	user, err := suite.db.GetUserByEmail(context.Background(), "a@x.io")
	suite.Require().NoError(err)
	suite.Equal("alice", user.Username)
	suite.NotEqual("pw", user.PasswordHash)

	resp, body = suite.login(c, "a@x.io", "pw")
	suite.Equal("/dashboard", resp.Request.URL.Path)
	suite.Contains(body, "Logged in successfully.")
	suite.Contains(body, "alice")
}

func (suite *HandlersTestSuite) TestRegisterRequiresAllFields() {
	c := suite.newClient()

	resp, body := suite.register(c, "alice", "", "pw")
	suite.Equal("/register", resp.Request.URL.Path)
	suite.Contains(body, "Please fill all fields")

	resp, body = suite.register(c, "   ", "a@x.io", "pw")
	suite.Equal("/register", resp.Request.URL.Path)
	suite.Contains(body, "Please fill all fields")

	count, err := suite.db.UserCount(context.Background())
	suite.Require().NoError(err)
	suite.Zero(count)
}

func (suite *HandlersTestSuite) TestRegisterTooLong() {
	c := suite.newClient()
	resp, _ := suite.register(c, strings.Repeat("a", 151), "a@x.io", "pw")
	suite.Equal("/register", resp.Request.URL.Path)

	count, err := suite.db.UserCount(context.Background())
	suite.Require().NoError(err)
	suite.Zero(count)
}

func (suite *HandlersTestSuite) TestRegisterLongPassword() {
	c := suite.newClient()
	password := strings.Repeat("a", 73)

	resp, body := suite.register(c, "bob", "bob@example.com", password)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("/login", resp.Request.URL.Path)
	suite.Contains(body, "Account created. Please login.")

	resp, _ = suite.login(c, "bob@example.com", strings.Repeat("a", 72)+"b")
	suite.Equal("/login", resp.Request.URL.Path)

	resp, body = suite.login(c, "bob@example.com", password)
	suite.Equal("/dashboard", resp.Request.URL.Path)
	suite.Contains(body, "Logged in successfully.")
}

func (suite *HandlersTestSuite) TestRegisterConflict() {
	c := suite.newClient()
	suite.register(c, "alice", "a@x.io", "pw")

	tests := []struct {
		name     string
		username string
		email    string
	}{
		{"duplicate email", "alice2", "a@x.io"},
		{"duplicate username", "alice", "other@x.io"},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			resp, body := suite.register(c, tt.username, tt.email, "pw")
			suite.Equal("/register", resp.Request.URL.Path)
			suite.Contains(body, "Username or email already exists")
		})
	}

	count, err := suite.db.UserCount(context.Background())
	suite.Require().NoError(err)
	suite.Equal(1, count)
}

func (suite *HandlersTestSuite) TestLoginFailuresAreIndistinguishable() {
	c := suite.newClient()
	suite.register(c, "alice", "a@x.io", "pw")

	wrongResp, wrongBody := suite.login(c, "a@x.io", "nope")
	unknownResp, unknownBody := suite.login(c, "nobody@x.io", "pw")

	suite.Equal("/login", wrongResp.Request.URL.Path)
	suite.Equal("/login", unknownResp.Request.URL.Path)
	suite.Contains(wrongBody, "Invalid credentials")
	suite.Equal(wrongBody, unknownBody)

	resp, _ := suite.get(noFollow(c), "/dashboard")
	suite.Equal(http.StatusFound, resp.StatusCode)
}

func (suite *HandlersTestSuite) TestAnonymousRedirectsToLogin() {
	c := noFollow(suite.newClient())
	for _, path := range []string{"/dashboard", "/add", "/expenses", "/export", "/export.xlsx", "/api/category-summary", "/edit/1", "/logout"} {
		resp, _ := suite.get(c, path)
		suite.Equal(http.StatusFound, resp.StatusCode, path)
		suite.Equal("/login", resp.Header.Get("Location"), path)
	}
}

func (suite *HandlersTestSuite) TestLogout() {
	c, _ := suite.signIn("alice")

	resp, body := suite.get(c, "/logout")
	suite.Equal("/", resp.Request.URL.Path)
	suite.Contains(body, "You have been logged out.")

	resp, _ = suite.get(noFollow(c), "/dashboard")
	suite.Equal(http.StatusFound, resp.StatusCode)
	suite.Equal("/login", resp.Header.Get("Location"))
}

func (suite *HandlersTestSuite) TestAliceScenario() {
	c, user := suite.signIn("alice")

	resp, body := suite.addExpense(c, "2025-01-02", "Food", "12.5", "lunch")
	suite.Equal("/dashboard", resp.Request.URL.Path)
	suite.Contains(body, "Expense added")
	suite.Contains(body, "12.50")
	suite.Contains(body, "lunch")

	list := suite.expenses(user.ID)
	suite.Require().Len(list, 1)
	suite.Equal("2025-01-02", list[0].Date.String())
	suite.Equal("Food", list[0].Category)
	suite.Equal(12.5, list[0].Amount)

	suite.Equal(map[string]float64{"Food": 12.5}, suite.summary(c))
}

func (suite *HandlersTestSuite) TestCategorySummary() {
	c, _ := suite.signIn("alice")
	suite.Equal(map[string]float64{}, suite.summary(c))

	suite.addExpense(c, "2025-01-02", "Food", "10", "")
	suite.addExpense(c, "2025-01-03", "Food", "20", "")
	suite.addExpense(c, "2025-01-03", "Rent", "-5", "refund")

	suite.Equal(map[string]float64{"Food": 30, "Rent": -5}, suite.summary(c))

	_, body := suite.get(c, "/dashboard")
	suite.Contains(body, "25.00")
}

func (suite *HandlersTestSuite) TestSummaryIsPerUser() {
	alice, _ := suite.signIn("alice")
	bob, _ := suite.signIn("bob")

	suite.addExpense(alice, "2025-01-02", "Food", "10", "")
	suite.Equal(map[string]float64{}, suite.summary(bob))
}

func (suite *HandlersTestSuite) TestAddExpenseValidation() {
	c, user := suite.signIn("alice")

	tests := []struct {
		name    string
		date    string
		cat     string
		amount  string
		note    string
		message string
	}{
		{"bad date", "not-a-date", "Food", "1", "", "Invalid date format"},
		{"impossible date", "2025-02-30", "Food", "1", "", "Invalid date format"},
		{"bad amount", "2025-01-02", "Food", "abc", "", "Invalid amount"},
		{"nan amount", "2025-01-02", "Food", "NaN", "", "Invalid amount"},
		{"inf amount", "2025-01-02", "Food", "Inf", "", "Invalid amount"},
		{"missing category", "2025-01-02", "  ", "1", "", "Invalid category"},
		{"long category", "2025-01-02", strings.Repeat("c", 51), "1", "", "Invalid category"},
		{"long note", "2025-01-02", "Food", "1", strings.Repeat("n", 256), "Note is too long"},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			resp, body := suite.addExpense(c, tt.date, tt.cat, tt.amount, tt.note)
			suite.Equal("/add", resp.Request.URL.Path)
			suite.Contains(body, tt.message)
		})
	}

	suite.Empty(suite.expenses(user.ID))
}

func (suite *HandlersTestSuite) TestAddExpenseForm() {
	c, _ := suite.signIn("alice")
	resp, body := suite.get(c, "/add")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Contains(body, time.Now().Format(models.DateLayout))
}

func (suite *HandlersTestSuite) TestEditExpense() {
	c, user := suite.signIn("alice")
	suite.addExpense(c, "2025-01-02", "Food", "12.5", "lunch")
	e := suite.expenses(user.ID)[0]
	path := fmt.Sprintf("/edit/%d", e.ID)

	resp, body := suite.get(c, path)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Contains(body, `value="Food"`)
	suite.Contains(body, `value="12.50"`)

	resp, body = suite.post(c, path, url.Values{
		"date":     {"2025-01-05"},
		"category": {"Travel"},
		"amount":   {"40"},
		"note":     {""},
	})
	suite.Equal("/expenses", resp.Request.URL.Path)
	suite.Contains(body, "Expense updated")

	updated, err := suite.db.GetExpense(context.Background(), e.ID)
	suite.Require().NoError(err)
	suite.Equal("2025-01-05", updated.Date.String())
	suite.Equal("Travel", updated.Category)
	suite.Equal(40.0, updated.Amount)
	suite.Empty(updated.Note)
	suite.Equal(user.ID, updated.UserID)
	suite.True(e.CreatedAt.Equal(updated.CreatedAt))

	resp, body = suite.post(c, path, url.Values{
		"date":     {"yesterday"},
		"category": {"Travel"},
		"amount":   {"40"},
	})
	suite.Equal(path, resp.Request.URL.Path)
	suite.Contains(body, "Invalid date")
	suite.NotContains(body, "Invalid date format")
}

func (suite *HandlersTestSuite) TestCrossUserAccess() {
	alice, aliceUser := suite.signIn("alice")
	bob, _ := suite.signIn("bob")

	suite.addExpense(alice, "2025-01-02", "Food", "12.5", "lunch")
	e := suite.expenses(aliceUser.ID)[0]

	resp, body := suite.get(bob, fmt.Sprintf("/edit/%d", e.ID))
	suite.Equal("/dashboard", resp.Request.URL.Path)
	suite.Contains(body, "Not authorised")

	resp, body = suite.post(bob, fmt.Sprintf("/edit/%d", e.ID), url.Values{
		"date":     {"2025-01-05"},
		"category": {"Hacked"},
		"amount":   {"999"},
	})
	suite.Equal("/dashboard", resp.Request.URL.Path)
	suite.Contains(body, "Not authorised")

	resp, body = suite.post(bob, fmt.Sprintf("/delete/%d", e.ID), nil)
	suite.Equal("/expenses", resp.Request.URL.Path)
	suite.Contains(body, "Not authorised")

	got, err := suite.db.GetExpense(context.Background(), e.ID)
	suite.Require().NoError(err)
	suite.Equal(e.Category, got.Category)
	suite.Equal(e.Amount, got.Amount)
	suite.Equal(e.Date.String(), got.Date.String())
}

func (suite *HandlersTestSuite) TestDeleteExpense() {
	c, user := suite.signIn("alice")
	suite.addExpense(c, "2025-01-02", "Food", "12.5", "")
	e := suite.expenses(user.ID)[0]

	resp, body := suite.post(c, fmt.Sprintf("/delete/%d", e.ID), nil)
	suite.Equal("/expenses", resp.Request.URL.Path)
	suite.Contains(body, "Expense deleted")
	suite.Empty(suite.expenses(user.ID))

	resp, _ = suite.post(c, fmt.Sprintf("/delete/%d", e.ID), nil)
	suite.Equal(http.StatusNotFound, resp.StatusCode)
}

func (suite *HandlersTestSuite) TestDeleteRequiresPost() {
	c, user := suite.signIn("alice")
	suite.addExpense(c, "2025-01-02", "Food", "12.5", "")
	e := suite.expenses(user.ID)[0]

	resp, _ := suite.get(c, fmt.Sprintf("/delete/%d", e.ID))
	suite.Equal(http.StatusMethodNotAllowed, resp.StatusCode)
	suite.Len(suite.expenses(user.ID), 1)
}

func (suite *HandlersTestSuite) TestUnknownExpense() {
	c, _ := suite.signIn("alice")

	for _, path := range []string{"/edit/9999", "/edit/abc"} {
		resp, body := suite.get(c, path)
		suite.Equal(http.StatusNotFound, resp.StatusCode, path)
		suite.Contains(body, "Not Found", path)
	}
}

func (suite *HandlersTestSuite) TestListExpensesPagination() {
	c, user := suite.signIn("alice")
	for i := 1; i <= 25; i++ {
		e := &models.Expense{
			UserID:   user.ID,
			Date:     models.Date{Time: time.Date(2025, 1, i, 0, 0, 0, 0, time.UTC)},
			Category: "Food",
			Amount:   float64(i),
		}
		suite.Require().NoError(suite.db.CreateExpense(context.Background(), e))
	}

	tests := []struct {
		query string
		items int
		first string
	}{
		{"", PageSize, "2025-01-25"},
		{"?page=1", PageSize, "2025-01-25"},
		{"?page=2", 5, "2025-01-05"},
		{"?page=abc", PageSize, "2025-01-25"},
		{"?page=0", PageSize, "2025-01-25"},
		{"?page=-3", PageSize, "2025-01-25"},
		{"?page=99", 0, ""},
		{"?page=922337203685477581", 0, ""},
	}
	for _, tt := range tests {
		suite.Run("page"+tt.query, func() {
			resp, body := suite.get(c, "/expenses"+tt.query)
			suite.Equal(http.StatusOK, resp.StatusCode)
			suite.Equal(tt.items, strings.Count(body, `class="expense-item"`))
			if tt.first != "" {
				suite.Contains(body, tt.first)
			} else {
				suite.Contains(body, "No expenses.")
			}
		})
	}

	_, body := suite.get(c, "/expenses?page=2")
	suite.Contains(body, `href="/expenses?page=1"`)
	suite.NotContains(body, `class="next"`)
}

func (suite *HandlersTestSuite) TestExportCSV() {
	c, user := suite.signIn("alice")
	suite.addExpense(c, "2025-01-02", "Food", "12.5", "lunch, with friends")
	suite.addExpense(c, "2025-01-03", "Transport", "3", "")

	resp, body := suite.get(c, "/export")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("text/csv", resp.Header.Get("Content-Type"))
	suite.Equal("attachment; filename=expenses.csv", resp.Header.Get("Content-Disposition"))

	records, err := csv.NewReader(strings.NewReader(body)).ReadAll()
	suite.Require().NoError(err)

	list := suite.expenses(user.ID)
	suite.Require().Len(records, len(list)+1)
	suite.Equal([]string{"id", "date", "category", "amount", "note"}, records[0])
	suite.Equal([]string{strconv.FormatInt(list[0].ID, 10), "2025-01-03", "Transport", "3.00", ""}, records[1])
	suite.Equal([]string{strconv.FormatInt(list[1].ID, 10), "2025-01-02", "Food", "12.50", "lunch, with friends"}, records[2])
}

func (suite *HandlersTestSuite) TestExportCSVEmpty() {
	c, _ := suite.signIn("alice")
	_, body := suite.get(c, "/export")
	suite.Equal("id,date,category,amount,note\n", body)
}

func (suite *HandlersTestSuite) TestExportXLSX() {
	c, _ := suite.signIn("alice")
	suite.addExpense(c, "2025-01-02", "Food", "12.5", "lunch")

	resp, body := suite.get(c, "/export.xlsx")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("attachment; filename=expenses.xlsx", resp.Header.Get("Content-Disposition"))

	f, err := excelize.OpenReader(strings.NewReader(body))
	suite.Require().NoError(err)
	defer f.Close()

	rows, err := f.GetRows(xlsxSheet, excelize.Options{RawCellValue: true})
	suite.Require().NoError(err)
	suite.Require().Len(rows, 2)
	suite.Equal(exportHeader, rows[0])
	suite.Equal("2025-01-02", rows[1][1])
	suite.Equal("Food", rows[1][2])
	amount, err := strconv.ParseFloat(rows[1][3], 64)
	suite.Require().NoError(err)
	suite.Equal(12.5, amount)
	suite.Equal("lunch", rows[1][4])
}

func (suite *HandlersTestSuite) TestHealth() {
	resp, body := suite.get(suite.newClient(), "/healthz")
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("ok", body)
}

func (suite *HandlersTestSuite) TestStaticAssets() {
	resp, _ := suite.get(suite.newClient(), "/static/style.css")
	suite.Equal(http.StatusOK, resp.StatusCode)
}

func (suite *HandlersTestSuite) TestTamperedCookieIsCleared() {
	c := noFollow(suite.newClient())
	req, err := http.NewRequest(http.MethodGet, suite.server.URL+"/dashboard", http.NoBody)
	suite.Require().NoError(err)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "garbage"})

	resp, err := c.Do(req)
	suite.Require().NoError(err)
	resp.Body.Close()

	suite.Equal(http.StatusFound, resp.StatusCode)
	var cleared bool
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookieName && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	suite.True(cleared, "session cookie should be cleared")
}

func (suite *HandlersTestSuite) TestRollingSession() {
	ctx := context.Background()
	user, err := suite.db.CreateUser(ctx, "alice", "a@x.io", "hash")
	suite.Require().NoError(err)

	token, err := auth.GenerateSessionToken()
	suite.Require().NoError(err)
	// Less than half of the session duration left.
	expiresAt := time.Now().Add(time.Hour)
	suite.Require().NoError(suite.db.CreateSession(ctx, token, user.ID, expiresAt))
	value, err := suite.h.signer.Sign(token, user.ID, expiresAt)
	suite.Require().NoError(err)

	req, err := http.NewRequest(http.MethodGet, suite.server.URL+"/dashboard", http.NoBody)
	suite.Require().NoError(err)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: value})
	resp, err := noFollow(suite.newClient()).Do(req)
	suite.Require().NoError(err)
	resp.Body.Close()

	suite.Equal(http.StatusOK, resp.StatusCode)
	info, err := suite.db.ValidateSessionWithInfo(ctx, token)
	suite.Require().NoError(err)
	suite.True(info.ExpiresAt.After(time.Now().Add(DefaultSessionDuration-time.Minute)))

	var renewed bool
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookieName && cookie.MaxAge > 0 {
			renewed = true
		}
	}
	suite.True(renewed, "session cookie should be re-issued")
}

func (suite *HandlersTestSuite) TestCookieForAnotherUserIsRejected() {
	ctx := context.Background()
	alice, err := suite.db.CreateUser(ctx, "alice", "a@x.io", "hash")
	suite.Require().NoError(err)

	token, err := auth.GenerateSessionToken()
	suite.Require().NoError(err)
	expiresAt := time.Now().Add(DefaultSessionDuration)
	suite.Require().NoError(suite.db.CreateSession(ctx, token, alice.ID, expiresAt))
	value, err := suite.h.signer.Sign(token, alice.ID+1, expiresAt)
	suite.Require().NoError(err)

	req, err := http.NewRequest(http.MethodGet, suite.server.URL+"/dashboard", http.NoBody)
	suite.Require().NoError(err)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: value})
	resp, err := noFollow(suite.newClient()).Do(req)
	suite.Require().NoError(err)
	resp.Body.Close()

	suite.Equal(http.StatusFound, resp.StatusCode)
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}
