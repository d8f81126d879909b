package pipeline

import "github.com/randalmurphal/sqlflow/pkg/sqlflow/prompt"

const fewShotExamples = `<examples>
Example 1: Simple filter
Question: How many records match a condition?
SQL: SELECT COUNT(*) AS total FROM orders WHERE amount > 100;

Example 2: JOIN + aggregate
Question: Count related records grouped by parent, show top 5.
SQL: SELECT p.name, COUNT(c.id) AS child_count FROM parents p JOIN children c ON p.id = c.parent_id GROUP BY p.id ORDER BY child_count DESC LIMIT 5;

Example 3: Multi-JOIN
Question: Aggregate a value across three related tables, show top 5.
SQL: SELECT c.name, SUM(oi.price * oi.quantity) AS total FROM categories c JOIN products p ON c.id = p.category_id JOIN order_items oi ON p.id = oi.product_id GROUP BY c.id ORDER BY total DESC LIMIT 5;

Example 4: Subquery with HAVING
Question: Find groups whose total exceeds the overall average.
SQL: SELECT customer_id, SUM(amount) AS total_spent FROM orders GROUP BY customer_id HAVING total_spent > (SELECT AVG(customer_total) FROM (SELECT SUM(amount) AS customer_total FROM orders GROUP BY customer_id));

Example 5: Window function
Question: Rank groups by an aggregated metric.
SQL: SELECT department, employee, SUM(sales) AS total_sales, RANK() OVER (ORDER BY SUM(sales) DESC) AS sales_rank FROM employees GROUP BY department, employee;
</examples>`

var systemPrompt = prompt.MustParse("system", `You are an agent designed to interact with a SQL database.
Given an input question, create a syntactically correct ${dialect} query to run using the run_query tool, then look at the results of the query and return the answer.

Unless the user specifies a specific number of examples they wish to obtain, always limit your query to at most ${top_k} results.
You can order the results by a relevant column to return the most interesting examples in the database.

Never query for all the columns from a specific table, only ask for the relevant columns given the question.

You have access to the following database schema. Always examine the table and column names in this schema before writing a query.

<schema dialect="${dialect}">
${schema_context}
</schema>

Here are some example questions and their corresponding SQL queries to guide your approach:

${few_shot_examples}

Before executing a query, double check it for these common mistakes:
- Using NOT IN with NULL values
- Using UNION when UNION ALL is needed
- Using BETWEEN for exclusive ranges
- Data type mismatches in predicates
- Properly quoting identifiers that are reserved words
- Using the correct number of arguments for functions
- Casting to the correct data type
- Using the proper columns for joins

If you get an error back, rewrite the query and try again.

DO NOT make any DML statements (INSERT, UPDATE, DELETE, DROP) etc.

After you get the query results back, provide a concise natural language answer to the user's original question based on the data returned.

If the question does not seem related to the database, just return "I don't know" as the answer.`)

var classifyPrompt = prompt.MustParse("classify", `Classify the following user question as either "simple" or "analytical".

**simple**: Direct data retrieval: counts, lists, lookups, single aggregations.
Examples: "How many users are there?", "List all orders from last month", "Show me the top 5 products"

**analytical**: Requires multi-step analysis, comparisons, trends, recommendations, or planning.
Signal words: analyze, compare, trend, recommend, why, correlate, optimize, increase, decrease, improve, forecast, breakdown, relationship.
Examples: "Analyze sales data and recommend ways to increase revenue", "Compare performance across regions and identify underperformers", "What factors correlate with customer churn?"

When in doubt, classify as "simple".

User question: ${question}

Respond with only a JSON object: {"query_type": "simple" or "analytical", "reasoning": "<one sentence>"}`)

var plannerPrompt = prompt.MustParse("plan", `You are a data analyst planning a multi-step SQL analysis.

Given the database schema and user question, create an ordered analysis plan.
Each step should produce one SQL query that builds toward answering the question.
Steps can reference insights from previous steps.

Rules:
- Maximum ${max_plan_steps} steps
- Each step must be independently executable as a single SQL query
- Order steps from foundational data gathering to deeper analysis
- Include steps for different dimensions (time, category, segment) when relevant
- The final synthesis will combine all step results into a cohesive answer

Database schema:
${schema_context}

User question: ${question}

Respond with only a JSON object: {"steps": [{"description": "...", "sql_hint": "...", "purpose": "..."}]}`)

var stepSQLPrompt = prompt.MustParse("step_sql", `Generate a single SQL query for this analysis step.

Database dialect: ${dialect}
Step description: ${step_description}
SQL hint: ${sql_hint}

Database schema:
${schema_context}

${previous_results}

Rules:
- Return ONLY the raw SQL query, nothing else
- Do NOT include any explanation, commentary, or description after the SQL
- Do NOT include markdown code fences
- The query must be a SELECT statement
- Use appropriate aggregations, grouping, and ordering
- Limit results to a reasonable number of rows (use LIMIT if needed)
- The query must be valid ${dialect} SQL`)

var analystPrompt = prompt.MustParse("analyst", `You are a data analyst synthesizing results from a multi-step analysis.

User question: ${question}

Analysis results:
${results_context}

Instructions:
- Present key findings with specific numbers from the data
- Identify cross-cutting insights that span multiple analysis steps
- If some steps failed, acknowledge limitations but still provide insights from available data
- Be concise and direct. Answer the user's question without adding unsolicited recommendations`)
