package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/officestack/docpatch/pkg/docdiff"
)

// Character budgets applied before prompt assembly. Validator inputs are
// clipped hard so an oversized document cannot blow the context window.
const (
	validatorContentBudget = 5000
	validatorCodeBudget    = 2000
	errorDetailBudget      = 2000
)

const instructionPrefix = `You are an AI assistant that generates Python code to modify Office documents. Your task is to write Python code that directly modifies the provided document.

Available variables:
- TARGET_FILE_PATH: path to the file to modify
- OUTPUT_DIR: directory where outputs should be saved
- CODES_DIR: directory where your generated scripts are saved (read-only for you)
Rules:
1) Do NOT ask the user for input; the path is provided.
2) Save outputs ONLY under OUTPUT_DIR.
3) Avoid network calls.
4) For Office documents (docx/xlsx/pptx), use python-docx/openpyxl/python-pptx to directly modify the source file:
   - Use Document() from docx for Word documents
   - Use Workbook() from openpyxl for Excel documents
   - Use Presentation() from python-pptx for PowerPoint documents
   - CRITICAL: ALWAYS modify the original file at TARGET_FILE_PATH directly - DO NOT create temp files
   - CRITICAL: DO NOT use shutil.move(), shutil.copy(), or any file copying/moving operations
   - CRITICAL: DO NOT create temporary files and then replace the original - this causes permission errors
   - Open the file, modify it in memory, then save directly to TARGET_FILE_PATH
   - Save changes back to TARGET_FILE_PATH (same file, not a copy)
   - Example: doc = Document(TARGET_FILE_PATH); [modify doc]; doc.save(TARGET_FILE_PATH)
   - Example: wb = load_workbook(TARGET_FILE_PATH); [modify wb]; wb.save(TARGET_FILE_PATH)
   - If the file is empty (0 bytes), create new content from scratch
   - For empty PowerPoint files: create a new presentation with slides
   - For empty Word files: create a new document with content
   - For empty Excel files: create a new workbook with data
   - For openpyxl charts: use chart.add_data() and chart.set_categories(), NOT DataSeries import
   - Do NOT set chart.series[-1].title directly - use titles_from_data=True instead
   - NEVER use any styles - NO 'Heading 1', 'Title', 'Normal' or any style names
   - ONLY use plain text without any formatting or styling
   - Do NOT apply any paragraph styles or formatting
5) Handle file permissions - if a file is read-only, make it writable or copy to temp location.
6) ALWAYS save changes back to TARGET_FILE_PATH - do NOT create new files.
7) Print clear completion messages.
`

const generationContext = `

You are given the following file content. Write Python code that opens the source document using the appropriate library and directly modifies it to complete the task. Do NOT create separate text files - work directly on the original document.
CRITICAL: Do NOT use any styles like 'Heading 1', 'Title', 'Normal' - use only plain text without any formatting.
CRITICAL: You MUST modify the file at TARGET_FILE_PATH directly. Do NOT create new files. Save changes back to TARGET_FILE_PATH.
CRITICAL: DO NOT use tempfile, shutil.move(), shutil.copy(), or any file copying/moving operations - this causes permission errors when files are open.
CRITICAL: Open the file, modify it in memory, then save directly to TARGET_FILE_PATH - no intermediate files.
CRITICAL: If the file is empty (0 bytes), create new content from scratch using the appropriate library.

`

func buildGenerationPrompt(task, content, targetPath string) string {
	var b strings.Builder
	b.WriteString(instructionPrefix)
	b.WriteString(generationContext)
	fmt.Fprintf(&b, "[FILE CONTENT START]\n%s\n[FILE CONTENT END]\n\n", content)
	fmt.Fprintf(&b, "Task: %s\n\n", task)
	fmt.Fprintf(&b, "IMPORTANT: The file to modify is at: %s\n", targetPath)
	b.WriteString("Save your changes back to this exact same file path. DO NOT create temp files or copy/move files.")
	return b.String()
}

const errorFixInstruction = `You are the EXECUTOR agent. Your previously generated code failed during execution. Fix the Python code to resolve the execution error while ensuring the ORIGINAL USER TASK is still completed correctly. Analyze the error carefully and fix only what's necessary. Do not change the logic that correctly implements the task - only fix the error. Return only a single Python code block with the corrected code.`

func buildErrorFixPrompt(task, failedCode, errorDetails string) string {
	var b strings.Builder
	b.WriteString(errorFixInstruction)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "ORIGINAL USER TASK (this must still be completed correctly):\n%s\n\n", task)
	fmt.Fprintf(&b, "EXECUTION ERROR:\n%s\n\n", errorDetails)
	fmt.Fprintf(&b, "YOUR PREVIOUSLY GENERATED CODE (that caused this error):\n%s", failedCode)
	return b.String()
}

const validatorInstruction = `You are a strict VALIDATOR. Compare the ORIGINAL file content with the MODIFIED file content against the user's TASK. Verify that:
1. ONLY the required changes from the task were made (nothing extra)
2. ALL required changes from the task were made (nothing missing)
3. No unrelated modifications were introduced
4. The modifications precisely match what was requested in the task

Reply with a single JSON object with exactly two fields: "valid" (true or false) and "feedback" (a string explaining what is wrong, or confirming correctness). Output nothing except that JSON object.`

func buildValidatorPrompt(task, original, modified, code string) string {
	var b strings.Builder
	b.WriteString(validatorInstruction)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "USER TASK:\n%s\n\n", task)
	fmt.Fprintf(&b, "ORIGINAL FILE CONTENT:\n%s\n\n", clip(original, validatorContentBudget))
	fmt.Fprintf(&b, "MODIFIED FILE CONTENT:\n%s\n\n", clip(modified, validatorContentBudget))
	if diff, _ := docdiff.Unified(original, modified, docdiff.MaxPromptLines); diff != "" {
		fmt.Fprintf(&b, "LINE DIFF (original vs modified):\n%s\n\n", diff)
	}
	fmt.Fprintf(&b, "Generated code (for reference):\n%s", clip(code, validatorCodeBudget))
	return b.String()
}

const validatorFixInstruction = `Regenerate ONLY Python code that satisfies the user's task EXACTLY. Apply the following validator feedback strictly. Do not include explanations. Return only a single Python code block.`

func buildValidatorFixPrompt(task, originalCode, feedback string) string {
	var b strings.Builder
	b.WriteString(validatorFixInstruction)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "TASK:\n%s\n\nVALIDATOR_FEEDBACK:\n%s\n\nORIGINAL_CODE:\n%s", task, feedback, originalCode)
	return b.String()
}

// Path-flow prompts. This variant asks for bare Python source, no fenced
// blocks, with an inspection/plan/code structure and a SUMMARY: line.

func buildPathGenerationPrompt(task, modifiedPath, carryover string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert Python developer with full CRUD permissions on the file at '%s'.\n", modifiedPath)
	fmt.Fprintf(&b, "The user's goal: %q\n\n", task)
	b.WriteString(`Make sure to put all planning steps in the code as comments, and any extra text you add in the code as comments. Leave notes for yourself in the code as comments. When adding new things like images, think properly and manage layout so the document stays presentable. Only write Python code and make sure not to add anything like a fenced code block marker or a file name in the code.

STEP 1 - INSPECTION:
- Open and read every sheet in the file at the given path ('` + modifiedPath + `').
- Identify its schema: sheet names, headers, data types, formulas, and any metadata.

STEP 2 - PLANNING:
- Produce a clear, ordered plan of exactly what to change (e.g. sheet 'Sales', row 4 column 'Amount', update formula X to Y).
- Reference specific sheets, rows, columns and explain why each change is needed for the user's goal.

STEP 3 - CODE GENERATION:
- Translate your plan into pure Python code (no markdown or fenced blocks) that:
    - Accepts the file path ('` + modifiedPath + `') as input
    - Does NOT use Microsoft Office tools - use only LibreOffice-compatible tools
    - Does NOT use packages that do not exist on PyPI
    - Modifies the file in place
    - Before importing any external library, check if it is already installed and meets version requirements; only install via pip if missing or outdated.
    - If you add a visual representation make sure to add legends, titles, class names, class labels, class values, scale, values on x and y axis and other relevant information to make it more presentable. If you have to add new columns for making charts show those columns in data (only if not already present) unless explicitly told by the user not to do so.
    - Properly set and show the scale of the chart and set appropriate distance between labels for the axis if applicable.
- At the end of your script, print a single line starting with 'SUMMARY:' listing each change performed (e.g. 'SUMMARY: Sheet "Data", row 4 col "Name" changed to "Alice"').

Ensure your code logically follows your plan, leverages all relevant information in the file, and uses only pip-installable packages.

For Word (.docx) documents:
- STEP 1: Inspect all paragraphs, runs, tables, headers, and footers in the file at '` + modifiedPath + `'.
- STEP 2: Plan edits by referencing exact paragraph indices, table cells, headers/footers, or styles to be changed.
- STEP 3: Generate Python code (using python-docx) to implement these edits, ensuring correct formatting, spacing, and layout. If inserting images or charts, manage placement and scaling properly. Keep the document clean and readable.

For PowerPoint (.pptx) presentations:
- STEP 1: Inspect all slides, placeholders, shapes, text boxes, images, and charts in the file at '` + modifiedPath + `'.
- STEP 2: Plan edits by referencing exact slide numbers and shape indices, describing why each change supports the user's goal.
- STEP 3: Generate Python code (using python-pptx) to perform these edits. When adding images, shapes, or charts, ensure proper layout, alignment, labels, and legends. Titles and subtitles must remain clear and visually consistent. Charts must have correct axes, scales, and legends.
`)
	if carryover != "" {
		b.WriteString("\n")
		b.WriteString(carryover)
		b.WriteString("\n")
	}
	return b.String()
}

func buildPathErrorFeedback(modifiedPath, errorText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The code you generated to process '%s' failed with this error:\n%s\n\n", modifiedPath, errorText)
	b.WriteString(`Please revisit your PLAN and correct only the specific code sections that caused this error.
- Do NOT rewrite the entire script - show only the changed lines or blocks.
- Maintain the same input signature (file path) and output format (print 'SUMMARY:' at end).
- Continue using only pip-installable Python packages and LibreOffice-compatible tools.
- Do NOT include any markdown or fenced code block formatting.

Output only the corrected Python code.`)
	return b.String()
}

func buildPathRejectionFeedback(verdict, originalPath, modifiedPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The validator identified the following issues:\n%s\n\n", verdict)
	fmt.Fprintf(&b, "Original file path: '%s'\nModified file path: '%s'\n\n", originalPath, modifiedPath)
	b.WriteString(`Please adjust your code to resolve these specific discrepancies.
- Do NOT rewrite unchanged sections - only output the corrected code segments.
- Maintain the same input signature and print 'SUMMARY:' after applying your fixes.
- Continue using only pip-installable Python packages and LibreOffice-compatible tools.
- Do NOT include any markdown or fenced code block formatting.

Output only the revised Python code.`)
	return b.String()
}

func buildPathValidatorPrompt(task, originalPath, modifiedPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a meticulous validator. The user requested: %q.\n", task)
	fmt.Fprintf(&b, "You have two files:\n  - Original: '%s'\n  - Modified: '%s'\n\n", originalPath, modifiedPath)
	b.WriteString(`VALIDATION STEPS:
1. Open and read both the original and modified files.
2. Compare the requested changes to the actual modifications in the modified file.
3. Check for any unintended edits in data values, formulas, formatting, or metadata.
4. Check for any mistakes or inconsistencies in the modified file.
5. Confirm every requested change is present, and nothing else was altered.

If everything matches exactly, reply:
  YES
  Briefly list the validations you performed (e.g. 'Checked sheet X rows 1-5, columns A-D').

If you find any discrepancy, reply:
  NO
  For each issue, specify:
    - What was expected (based on the user request)
    - What you observed instead (sheet, row, col, old and new value)

This detail will guide the executor to correct its code. Do NOT include any extra text.`)
	return b.String()
}

// clip truncates s to at most max bytes without splitting a UTF-8 sequence.
func clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
