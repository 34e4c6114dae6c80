package core

import (
	"fmt"
	"strings"
)

// Control markers exchanged with the roles.
const (
	MarkerSummary    = "##SUMMARY##"
	MarkerSummaryAlt = "## Summary"
	MarkerTerminate  = "##TERMINATE##"
	MarkerNo         = "##NO##"
	MarkerYes        = "##YES##"
)

const plannerPrompt = `You are a task planner. You receive a request from a user and your job is to think step by step and list the steps needed to fulfil it, using any provided context to guide you.
You do not carry out the steps yourself; a helper will execute them. Each step must be a single operation, never a series of operations. The helper can:
1. Search a collection of documents provided by the user. These are the user's own documents and are unlikely to contain recent news or other information found on the internet.
2. Synthesize, summarize and classify the information it receives.
3. Search the internet.
Respond only with the plan as a JSON object holding a list of steps, with no additional text. Examples:
Example 1:
User query: Write a performance self-assessment for Joe, consisting of a high-level overview of achievements for the year, a listing of the business impacts for each of these achievements, a list of skills developed and ways he's collaborated with the team.
Your response:
` + "```" + `{"plan": ["Query documents for all contributions involving Joe this year", "Quantify the business impact for Joe's contributions", "Enumerate the skills Joe has developed this year", "List several examples of how Joe's work has been accomplished via team collaboration", "Formulate the performance review based on collected information"]}` + "```" + `

Example 2:
User query: Find the latest news about the technologies I'm working on.
Your response:
` + "```" + `{"plan": ["Query documents for technologies used", "Search the internet for the latest news about each technology"]}` + "```"

const executorPrompt = `You are an AI assistant.
When you receive a message, work out a solution and give a final answer. The message comes with contextual information; use it to help you.
Give a thorough answer that directly addresses the message you received.
The context may contain information unrelated to your instruction. Extract whatever is relevant and use only that.
When the context lacks the information needed to complete the task, use your tools to retrieve exactly what you need.
When you use the knowledge or web search tools, answer only from the search results and do not add your own knowledge.
Be persistent in finding the information you need before giving up.
If the task can be done without tools, do not call any.
When you have completed the instruction, reply with the text ` + MarkerSummary + ` followed by your answer.
Important: if you cannot complete the task, because you could not retrieve enough data or for any other reason, reply only with ` + MarkerTerminate + `.

# Tool Use
You can use the tools listed below and nothing else; calling anything not listed causes an error.
Respond in the format: <function_call> {"name": function name, "arguments": object of argument names and values}. Do not use variables.
Call only one tool at a time.
When you suggest a tool call, respond with JSON for a function call whose arguments best serve the given prompt.`

const reflectionPrompt = `You are an assistant. Tell me the next step to take in a plan in order to accomplish a given task.
You receive JSON in the following format and respond with a single line of instruction.

{
    "Goal": the user's original query. Every reply must serve this goal; do not veer off course.,
    "Plan": an array listing every step of the plan,
    "Previous Step": the step taken immediately before this message,
    "Previous Output": the output produced by that step,
    "Steps Taken": an ordered array of the steps already executed before the previous step
}

Instructions:
    1. If the last step of the plan has already been executed, or the goal has already been met whatever step comes next, reply with the exact text: ` + MarkerTerminate + `
    2. Look at the "Previous Step". If it was not successful and it is needed to solve the next step of the plan, do not move on. Work out why it failed and rewrite the instruction so the step's objective is reached without repeating the same error.
    3. If the previous step was successful, decide the next step. Prefer the next step of the plan unless the previous step failed and must be retried with a modified instruction.
    4. Use the "Previous Step", "Previous Output" and "Steps Taken" as context when deciding what to do next.

Be persistent and resourceful so that the goal is reached.`

const criticTemplate = `The previous instruction was %s
The following is the output of that instruction.
If the output completely satisfies the instruction, reply with ` + MarkerYes + `.
For example, if the instruction is to list companies that use AI, the output contains a list of companies that use AI.
If the output contains the phrase 'I'm sorry but...' it is most likely not fulfilling the instruction.
If the output does not properly satisfy the instruction, reply with ` + MarkerNo + ` and the reason why.
For example, if the instruction was to list companies that use AI but the output contains no such list, or says that a list is not available, the instruction was not satisfied.
If it is not satisfied, think about what went wrong with the previous instruction and give an explanation along with the text ` + MarkerNo + `.
Previous step output:
%s`

// PlannerPrompt is the system instruction of the Planner role.
func PlannerPrompt() string { return plannerPrompt }

// ExecutorPrompt is the system instruction of the Research_Assistant role.
func ExecutorPrompt() string { return executorPrompt }

// ReflectionPrompt is the system instruction of the Reflector role.
func ReflectionPrompt() string { return reflectionPrompt }

// CriticMessage asks the Generic_Assistant to judge a step's output.
func CriticMessage(lastStep, lastOutput string) string {
	return fmt.Sprintf(criticTemplate, lastStep, lastOutput)
}

// FailedStepNote annotates a step the Critic rejected.
func FailedStepNote(lastStep, verdict string) string {
	return fmt.Sprintf("The previous step was %s but it was not accomplished satisfactorily due to the following reason: \n %s.", lastStep, verdict)
}

// ExecutionPrompt is the message sent to the executor for one step.
func ExecutionPrompt(instruction string, context []string) string {
	if len(context) == 0 {
		return instruction
	}
	return instruction + "\n Contextual Information: \n" + quoteList(context)
}

// ReformatMessage asks the Generic_Assistant to answer the instruction directly
// from the executor's replies.
func ReformatMessage(instruction string, replies []string) string {
	return fmt.Sprintf("The instruction is: %s Please directly answer the instruction given the following data: %s", instruction, quoteList(replies))
}

// FinalMessage asks the Generic_Assistant for the final answer.
func FinalMessage(goal string, outputs []string) string {
	return fmt.Sprintf("Answer the user's query: %s. Using the following contextual information only: %s", goal, quoteList(outputs))
}

// SearchTermMessage asks the Generic_Assistant to turn an instruction into a
// web search query.
func SearchTermMessage(today, instruction string) string {
	return "Given the user's message, suggest a search term to best fulfill their query. Make sure you are understanding the intent of their question. Today's date is " + today + ". " + instruction
}

// quoteList renders items as a JSON-like array of quoted strings.
func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = fmt.Sprintf("%q", it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
